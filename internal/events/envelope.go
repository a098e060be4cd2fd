package events

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
)

// NewEnvelope wraps a payload in a versioned wire envelope.
// ULIDs are used for envelope ids: lexicographically sortable, which keeps
// event ordering visible in logs.
func NewEnvelope(typ string, payload any) v1.Envelope {
	now := time.Now().UTC()

	b, err := json.Marshal(payload)
	if err != nil {
		// Payload types are our own structs; a marshal failure is a
		// programming error. Emit the envelope without payload so the
		// stream keeps flowing.
		b = nil
	}

	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEnvelopeID(now),
		TS:      now,
		Payload: b,
	}
}

func newEnvelopeID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
