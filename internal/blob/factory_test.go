package blob

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	appcfg "github.com/fdg312/metabolic-hub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBlobStore_LocalForced(t *testing.T) {
	var buf bytes.Buffer
	store, mode, err := NewBlobStore(context.Background(), appcfg.BlobConfig{Mode: appcfg.BlobModeLocal}, log.New(&buf, "", 0))
	require.NoError(t, err)
	assert.Equal(t, appcfg.BlobModeLocal, mode)
	assert.IsType(t, &MemoryStore{}, store)
	assert.Contains(t, buf.String(), "mode=local (forced)")
}

func TestNewBlobStore_AutoWithoutS3FallsBackToMemory(t *testing.T) {
	var buf bytes.Buffer
	store, mode, err := NewBlobStore(context.Background(), appcfg.BlobConfig{Mode: appcfg.BlobModeAuto}, log.New(&buf, "", 0))
	require.NoError(t, err)
	assert.Equal(t, appcfg.BlobModeLocal, mode)
	assert.IsType(t, &MemoryStore{}, store)
	assert.Contains(t, buf.String(), "code=s3_not_configured")
	assert.Contains(t, buf.String(), "mode=local (auto, S3 not configured)")
}

func TestNewBlobStore_S3MissingRequired(t *testing.T) {
	var buf bytes.Buffer
	store, mode, err := NewBlobStore(context.Background(), appcfg.BlobConfig{
		Mode: appcfg.BlobModeS3,
		S3: appcfg.S3Config{
			Endpoint:        "https://storage.yandexcloud.net",
			SecretAccessKey: "top-secret-value",
		},
	}, log.New(&buf, "", 0))
	require.Error(t, err)
	assert.Nil(t, store)
	assert.Empty(t, mode)
	assert.Contains(t, err.Error(), "missing required config")
	assert.NotContains(t, buf.String(), "top-secret-value")
}

func TestNewBlobStore_S3Configured(t *testing.T) {
	store, mode, err := NewBlobStore(context.Background(), appcfg.BlobConfig{
		Mode: appcfg.BlobModeS3,
		S3: appcfg.S3Config{
			Endpoint:        "https://storage.yandexcloud.net",
			Region:          "ru-central1",
			Bucket:          "coach-reports",
			AccessKeyID:     "key",
			SecretAccessKey: "secret",
			KeyPrefix:       "/exports/",
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, appcfg.BlobModeS3, mode)

	s3store, ok := store.(*S3Store)
	require.True(t, ok)
	assert.Equal(t, "exports/reports/a.pdf", s3store.key("reports/a.pdf"))

	url, err := s3store.PresignGet(context.Background(), "reports/a.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "coach-reports/exports/reports/a.pdf")
	assert.Contains(t, url, "X-Amz-Expires=900")
}

func TestNewBlobStore_ZapStdLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	_, _, err := NewBlobStore(context.Background(), appcfg.BlobConfig{Mode: "local"}, zap.NewStdLog(zap.New(core)))
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	assert.True(t, strings.HasSuffix(logs.All()[0].Message, "mode=local (forced)"))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.PresignGet(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	n, err := m.PutObject(ctx, "reports/u1/x.csv", []byte("a,b\n"), "text/csv")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	data, err := m.GetObject(ctx, "reports/u1/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	url, err := m.PresignGet(ctx, "reports/u1/x.csv", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "memory:///reports/u1/x.csv?expires="))

	require.NoError(t, m.DeleteObject(ctx, "reports/u1/x.csv"))
	_, err = m.GetObject(ctx, "reports/u1/x.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
