package notify

import (
	"context"

	"go.uber.org/zap"
)

// LocalSender only logs. It stands in for push when no webhook is configured.
type LocalSender struct {
	logger *zap.Logger
}

func NewLocalSender(logger *zap.Logger) *LocalSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSender{logger: logger}
}

func (s *LocalSender) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	s.logger.Info("notify.local",
		zap.String("user_id", msg.UserID),
		zap.String("channel", msg.Channel),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.Any("metadata", msg.Metadata),
	)
	return DeliveryResult{Status: StatusSent, Channel: msg.Channel}, nil
}
