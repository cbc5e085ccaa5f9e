package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

type DesktopSender struct {
	appName string
	notify  func(title, message, appIcon string) error
}

func NewDesktopSender(appName string) *DesktopSender {
	if appName == "" {
		appName = "Metabolic Coach"
	}
	return &DesktopSender{appName: appName, notify: beeep.Notify}
}

func (s *DesktopSender) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return DeliveryResult{}, err
	}
	title := msg.Title
	if title == "" {
		title = s.appName
	}
	if err := s.notify(title, msg.Body, ""); err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Status: StatusSent, Channel: ChannelDesktop}, nil
}
