package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
)

// Envelope is one decoded message. Inbound envelopes are dispatched and then
// dropped; nothing retains them.
type Envelope struct {
	Kind Kind
	// RawType is the wire tag as received; it differs from Kind only for
	// KindUnknown.
	RawType   string
	Data      json.RawMessage
	UserID    string
	Timestamp time.Time
}

// wireEnvelope is the outbound shape.
type wireEnvelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	UserID    string `json:"userId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Encode serializes an outbound envelope.
func Encode(kind Kind, data any, userID string, now time.Time) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(wireEnvelope{
		Type:      string(kind),
		Data:      data,
		UserID:    userID,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return raw, nil
}

// Decode parses an inbound message against the table. Payloads may arrive
// under "data" or "payload"; the sender under "userId" or "senderId"; the
// timestamp as ISO-8601 or epoch milliseconds.
func (t Table) Decode(raw []byte) (Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return Envelope{}, apperrors.New(apperrors.CodeProtocolMalformed, "envelope is not valid json")
	}
	fields := gjson.GetManyBytes(raw, "type", "data", "payload", "userId", "senderId", "timestamp")
	typ, data, payload, userID, senderID, stamp := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]

	if typ.Type != gjson.String || typ.Str == "" {
		return Envelope{}, apperrors.New(apperrors.CodeProtocolMalformed, "envelope type is required")
	}

	kind, _ := t.Inbound(typ.Str)
	env := Envelope{
		Kind:      kind,
		RawType:   typ.Str,
		UserID:    userID.String(),
		Timestamp: parseTimestamp(stamp),
	}
	if env.UserID == "" {
		env.UserID = senderID.String()
	}
	body := data
	if !body.Exists() {
		body = payload
	}
	if body.Exists() && body.Type != gjson.Null {
		env.Data = json.RawMessage(body.Raw)
	}
	return env, nil
}

func parseTimestamp(value gjson.Result) time.Time {
	switch value.Type {
	case gjson.String:
		parsed, err := time.Parse(time.RFC3339Nano, value.Str)
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	case gjson.Number:
		return time.UnixMilli(value.Int()).UTC()
	default:
		return time.Time{}
	}
}

// DecodeData unmarshals an envelope payload into T. An empty payload yields
// the zero value.
func DecodeData[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, apperrors.WrapWithMetadata(
			apperrors.CodeProtocolMalformed,
			fmt.Sprintf("decode %s payload", env.RawType),
			map[string]string{"Kind": env.RawType},
			err,
		)
	}
	return out, nil
}

// Local builds an envelope for a synthetic local event.
func Local(kind Kind, data any, now time.Time) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Envelope{Kind: kind, RawType: string(kind), Data: raw, Timestamp: now.UTC()}
}
