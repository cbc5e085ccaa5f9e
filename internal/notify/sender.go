package notify

import (
	"context"
)

const (
	ChannelPush    = "push"
	ChannelEmail   = "email"
	ChannelDesktop = "desktop"

	CategoryMovement   = "movement"
	CategoryInsulin    = "insulin"
	CategoryInactivity = "inactivity"
	CategoryAgent      = "agent"

	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// Message is what a transport delivers. Email is only used by the email channel.
type Message struct {
	UserID   string
	Channel  string
	Title    string
	Body     string
	Metadata map[string]any
	Email    string
}

type DeliveryResult struct {
	Status  string
	Reason  string
	Channel string
}

func (r DeliveryResult) Sent() bool {
	return r.Status == StatusSent
}

func skipped(channel, reason string) DeliveryResult {
	return DeliveryResult{Status: StatusSkipped, Reason: reason, Channel: channel}
}

// Sender delivers a message over one transport. A returned error means the
// transport failed; the dispatcher turns it into a skipped result.
type Sender interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}
