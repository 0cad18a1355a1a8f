package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/assetmesh/asset"
)

// Envelope wraps every message on the wire in both directions.
//
// Client to server types: "subscribe", "unsubscribe", "write", "ack",
// "nack". Server to client types: "data" (completion events matching the
// client's subscriptions) and "error".
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeWrite       = "write"
	TypeAck         = "ack"
	TypeNack        = "nack"
	TypeData        = "data"
	TypeError       = "error"
)

// WritePayload is the payload of a "write" envelope.
type WritePayload struct {
	AssetID   string      `json:"assetId"`
	Attribute string      `json:"attribute"`
	Value     asset.Value `json:"value,omitempty"`
}

// ErrorPayload is the payload of an "error" envelope. The envelope's ID
// carries the ID of the request that failed, when there was one.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Subscribe and unsubscribe envelopes carry an identity.Filter payload.

func newEnvelope(msgType string, payload []byte) Envelope {
	return Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

func errorEnvelope(requestID, message string) ([]byte, error) {
	payload, err := json.Marshal(ErrorPayload{Message: message})
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:      TypeError,
		ID:        requestID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return json.Marshal(env)
}
