package dbmigrate

import (
	"context"
	"io/fs"
	"testing"

	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectTarget_Priority(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.Config
		strict     bool
		wantURL    string
		wantSource string
		wantWarn   bool
		wantErr    bool
	}{
		{
			name:       "direct wins",
			cfg:        config.Config{DatabaseURLDirect: "postgres://direct", DatabaseURLRaw: "postgres://url", DatabaseURLPooled: "postgres://pooled"},
			wantURL:    "postgres://direct",
			wantSource: "DATABASE_URL_DIRECT",
		},
		{
			name:       "falls back to DATABASE_URL",
			cfg:        config.Config{DatabaseURLRaw: "postgres://url", DatabaseURLPooled: "postgres://pooled"},
			wantURL:    "postgres://url",
			wantSource: "DATABASE_URL",
		},
		{
			name:       "pooled warns",
			cfg:        config.Config{DatabaseURLPooled: "postgres://pooled"},
			wantURL:    "postgres://pooled",
			wantSource: "DATABASE_URL_POOLED",
			wantWarn:   true,
		},
		{
			name:    "strict requires direct",
			cfg:     config.Config{DatabaseURLRaw: "postgres://url"},
			strict:  true,
			wantErr: true,
		},
		{
			name:    "nothing configured",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			got, err := SelectTarget(&cfg, tt.strict)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, got.URL)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantWarn, got.Warning != "")
		})
	}
}

func TestRun_RejectsBadInput(t *testing.T) {
	err := Run(context.Background(), "up", "", "", nil)
	assert.ErrorContains(t, err, "database URL is empty")

	err = Run(context.Background(), "drop-everything", "postgres://localhost/x", "", nil)
	assert.ErrorContains(t, err, "unsupported migrate command")
}

func TestValidCommand(t *testing.T) {
	assert.True(t, ValidCommand("status"))
	assert.False(t, ValidCommand("fix"))
}

func TestEmbeddedMigrations_Present(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	assert.Contains(t, files, "00001_metabolic_core.sql")
}
