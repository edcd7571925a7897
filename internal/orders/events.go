package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	kafkax "github.com/hydrolia/checkout/internal/kafka"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// StatusChangedPayload is emitted on every lifecycle transition, including
// the initial paid state written by checkout.
type StatusChangedPayload struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	Status     Status `json:"status"`
	TotalCents int    `json:"total_cents"`
	Extra      string `json:"extra,omitempty"`
}

func marshalEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewEnvelope(eventType, producer, correlationID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
}
