// Package main is the entry point for gorsync-homelab.
package main

import (
	"fmt"
	"os"

	"github.com/fgeck/gorsync-homelab/internal/models"
)

func main() {
	if err := Execute(); err != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = "error"
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", kind, err)
		os.Exit(1)
	}
}
