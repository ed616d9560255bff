package main

import (
	"testing"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveArgs(t *testing.T) {
	tests := []struct {
		name       string
		names      []string
		allButKeep int
		olderThan  string
		invalid    bool
		want       models.TaskArgs
		wantErr    bool
	}{
		{
			name:  "names",
			names: []string{"20240101000000", "20240102000000"},
			want:  models.TaskArgs{Names: []string{"20240101000000", "20240102000000"}},
		},
		{
			name:       "all but keep",
			allButKeep: 3,
			want:       models.TaskArgs{Policy: &models.RetentionPolicy{KeepLast: 3}},
		},
		{
			name:      "older than",
			olderThan: "2w",
			want:      models.TaskArgs{Policy: &models.RetentionPolicy{KeepWithin: 14 * 24 * time.Hour}},
		},
		{
			name:    "invalid",
			invalid: true,
			want:    models.TaskArgs{Failed: true},
		},
		{name: "nothing selected", wantErr: true},
		{name: "two selectors", names: []string{"x"}, invalid: true, wantErr: true},
		{name: "negative keep", allButKeep: -1, wantErr: true},
		{name: "bad duration", olderThan: "soon", wantErr: true},
		{name: "zero duration", olderThan: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := removeArgs(tt.names, tt.allButKeep, tt.olderThan, tt.invalid)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, models.IsKind(err, models.KindConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewInfoView(t *testing.T) {
	started := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	gen := models.Generation{
		Name:       "20240310120000",
		CreatedAt:  started,
		Status:     models.StatusComplete,
		Previous:   "20240309120000",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Counters: models.TransferCounters{
			FilesCreated:     2,
			FilesUnchanged:   10,
			BytesTotal:       2048,
			BytesTransferred: 1024,
		},
		SizeBytes: 4096,
	}

	v := newInfoView(gen, "/srv/backups/20240310120000/data")

	assert.Equal(t, "20240310120000", v.Name)
	assert.Equal(t, "complete", v.Status)
	assert.Equal(t, "20240309120000", v.Previous)
	assert.Equal(t, "1m30s", v.Duration)
	assert.Equal(t, filesView{Created: 2, Unchanged: 10}, v.Files)
	assert.Equal(t, "1.0 KiB", v.Transferred)
	assert.Equal(t, "4.0 KiB", v.Size)
	assert.Empty(t, v.RestoredAt)
}
