// Package events defines the port interface for publishing domain events.
package events

import "context"

// Publisher is the port interface for fire-and-forget event publishing.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Handler processes one received event.
type Handler func(subject string, data []byte) error

// Subscriber is the port interface for consuming published events.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)
}

// MultiPublisher fans one event out to several publishers. A failing
// publisher does not stop the others; the first error is returned.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, subject, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Subjects emitted by the prediction cycle and webhook intake.
const (
	SubjectCycleCompleted = "crm.cycle.completed"
	SubjectUnlockEarned   = "crm.unlock.earned"
	SubjectWebhookEvent   = "crm.webhook.received"
)
