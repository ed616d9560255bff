// Package control exposes the daemon over HTTP on a unix socket.
package control

import (
	"github.com/fgeck/gorsync-homelab/internal/models"
)

// SubmitRequest is the body of POST /tasks.
type SubmitRequest struct {
	Kind models.TaskKind `json:"kind" validate:"required,oneof=backup restore prune"`
	Args models.TaskArgs `json:"args"`
}

// CancelResponse is the body returned by DELETE /tasks/{id}.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ClearResponse is the body returned by POST /tasks/clear.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse carries a classified failure.
type ErrorResponse struct {
	Kind    models.ErrorKind `json:"kind,omitempty"`
	Message string           `json:"message"`
}
