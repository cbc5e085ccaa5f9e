package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/blob"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPresignTTL = 15 * time.Minute

// Exporter uploads rendered monthly reports and hands back a presigned URL.
type Exporter struct {
	generator  *Generator
	blobs      blob.Store
	presignTTL time.Duration
	logger     *zap.Logger
}

func NewExporter(store Store, blobs blob.Store, presignTTL time.Duration, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if presignTTL <= 0 {
		presignTTL = defaultPresignTTL
	}
	return &Exporter{
		generator:  NewGenerator(store),
		blobs:      blobs,
		presignTTL: presignTTL,
		logger:     logger,
	}
}

func (e *Exporter) ExportMonthly(ctx context.Context, userID, format string, now time.Time) (Export, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != FormatPDF && format != FormatCSV {
		return Export{}, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	doc, err := e.generator.Build(ctx, userID, now)
	if err != nil {
		return Export{}, err
	}
	data, err := e.generator.Render(doc, format)
	if err != nil {
		return Export{}, err
	}

	key := fmt.Sprintf("reports/%s/%s_%s_%s.%s",
		userID, doc.Report.Window.Start, doc.Report.Window.End, uuid.NewString(), format)
	size, err := e.blobs.PutObject(ctx, key, data, contentType(format))
	if err != nil {
		return Export{}, fmt.Errorf("upload report: %w", err)
	}
	url, err := e.blobs.PresignGet(ctx, key, e.presignTTL)
	if err != nil {
		return Export{}, fmt.Errorf("presign report: %w", err)
	}

	e.logger.Info("monthly report exported",
		zap.String("user_id", userID),
		zap.String("format", format),
		zap.String("key", key),
		zap.Int64("size_bytes", size),
	)
	return Export{
		Key:         key,
		URL:         url,
		Format:      format,
		ContentType: contentType(format),
		SizeBytes:   size,
		ExpiresAt:   now.Add(e.presignTTL).UTC(),
	}, nil
}
