package ws

import (
	"context"
	"encoding/json"
)

// Event type constants for WebSocket messages.
const (
	EventCycleCompleted = "cycle.completed"
	EventUnlockEarned   = "unlock.earned"
	EventWebhook        = "webhook.received"
)

// CycleCompletedEvent is broadcast after each prediction cycle run.
type CycleCompletedEvent struct {
	TenantID    string   `json:"tenantId"`
	Predictions int      `json:"predictions"`
	Wins        int      `json:"wins"`
	Losses      int      `json:"losses"`
	WinRate     int      `json:"winRate"`
	NewUnlocks  []string `json:"newUnlocks"`
}

// UnlockEarnedEvent is broadcast when a tenant earns a new unlock.
type UnlockEarnedEvent struct {
	TenantID string `json:"tenantId"`
	UnlockID string `json:"unlockId"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Publish implements the events publisher port so the hub can sit behind
// the same fan-out as the message bus. The subject becomes the message type.
func (h *Hub) Publish(ctx context.Context, subject string, data []byte) error {
	h.Broadcast(ctx, Message{
		Type:    subject,
		Payload: json.RawMessage(data),
	})
	return nil
}
