package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
)

func TestEncodeShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	raw, err := Encode(KindUserJoined, UserJoinedPayload{UserID: "U7", SessionID: "S1", Timestamp: now}, "U7", now)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded struct {
		Type      string         `json:"type"`
		Data      map[string]any `json:"data"`
		UserID    string         `json:"userId"`
		Timestamp string         `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != "USER_JOINED" || decoded.UserID != "U7" {
		t.Fatalf("unexpected envelope %s", raw)
	}
	if decoded.Timestamp != "2026-03-01T20:00:00Z" {
		t.Fatalf("timestamp = %q", decoded.Timestamp)
	}
	if decoded.Data["sessionId"] != "S1" {
		t.Fatalf("data = %v", decoded.Data)
	}
}

func TestEncodeNilDataIsEmptyObject(t *testing.T) {
	raw, err := Encode(KindPing, nil, "", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := string(raw); got != `{"type":"PING","data":{},"timestamp":"1970-01-01T00:00:00Z"}` {
		t.Fatalf("encoded = %s", got)
	}
}

func TestDecodeKnownKind(t *testing.T) {
	env, err := EncounterTable.Decode([]byte(`{"type":"TURN_CHANGED","data":{"currentTurnIndex":1,"currentRound":2},"userId":"dm","timestamp":"2026-03-01T20:00:01.5Z"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindTurnChanged || env.RawType != "TURN_CHANGED" || env.UserID != "dm" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if want := time.Date(2026, 3, 1, 20, 0, 1, 500_000_000, time.UTC); !env.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", env.Timestamp, want)
	}
	payload, err := DecodeData[TurnChangedPayload](env)
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if payload.CurrentTurnIndex != 1 || payload.CurrentRound != 2 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestDecodeAcceptsPayloadAliasAndSenderID(t *testing.T) {
	env, err := EncounterTable.Decode([]byte(`{"type":"USER_LEFT","payload":{"userId":"U2"},"senderId":"U2","timestamp":1772395200000}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.UserID != "U2" {
		t.Fatalf("user id = %q", env.UserID)
	}
	if env.Timestamp.IsZero() {
		t.Fatal("expected epoch millis timestamp")
	}
	payload, err := DecodeData[UserLeftPayload](env)
	if err != nil || payload.UserID != "U2" {
		t.Fatalf("payload = %+v err = %v", payload, err)
	}
}

func TestDecodeUnknownKindRoutesToCatchAll(t *testing.T) {
	env, err := EncounterTable.Decode([]byte(`{"type":"WEATHER_CHANGED","data":{"rain":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindUnknown || env.RawType != "WEATHER_CHANGED" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	// A notification-only kind is unknown on the encounter channel.
	env, err = EncounterTable.Decode([]byte(`{"type":"NEW_NOTIFICATION","data":{}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindUnknown {
		t.Fatalf("kind = %s, want UNKNOWN", env.Kind)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{"type":`},
		{name: "missing type", raw: `{"data":{}}`},
		{name: "numeric type", raw: `{"type":7}`},
		{name: "empty type", raw: `{"type":""}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncounterTable.Decode([]byte(tc.raw))
			if !errors.Is(err, apperrors.New(apperrors.CodeProtocolMalformed, "")) {
				t.Fatalf("error = %v, want malformed", err)
			}
		})
	}
}

func TestDecodeDataMalformedPayload(t *testing.T) {
	env, err := EncounterTable.Decode([]byte(`{"type":"HEALTH_UPDATE","data":{"currentHp":"lots"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := DecodeData[HealthUpdatePayload](env); apperrors.ClassOf(err) != apperrors.ClassProtocol {
		t.Fatalf("error = %v, want protocol class", err)
	}
}

func TestTablesCoverChannelVocabulary(t *testing.T) {
	encounterInbound := []Kind{
		KindInitialState, KindActionPerformed, KindTurnChanged, KindCombatStarted,
		KindCombatEnded, KindParticipantAdded, KindHealthUpdate, KindUserJoined,
		KindUserLeft, KindPong,
	}
	for _, kind := range encounterInbound {
		if got, ok := EncounterTable.Inbound(string(kind)); !ok || got != kind {
			t.Fatalf("encounter inbound %s missing", kind)
		}
	}
	for _, kind := range []Kind{KindUserJoined, KindPerformAction, KindDiceRoll, KindAddNPC, KindPlayerPositionUpdate, KindChatMessage, KindPing} {
		if !EncounterTable.AllowsOutbound(kind) {
			t.Fatalf("encounter outbound %s missing", kind)
		}
	}
	for _, kind := range []Kind{KindNotificationsConnected, KindNewNotification, KindUnreadCountUpdate, KindNotificationMarkedRead, KindAllNotificationsMarkedRead, KindNotificationDeleted, KindSystemNotification, KindPong} {
		if got, ok := NotificationTable.Inbound(string(kind)); !ok || got != kind {
			t.Fatalf("notification inbound %s missing", kind)
		}
	}
	for _, kind := range []Kind{KindPing, KindMarkAsRead, KindMarkAllRead, KindDeleteNotification} {
		if !NotificationTable.AllowsOutbound(kind) {
			t.Fatalf("notification outbound %s missing", kind)
		}
	}
	if NotificationTable.AllowsOutbound(KindPerformAction) {
		t.Fatal("notification channel must not send encounter kinds")
	}
}
