package conn

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// Target names the room a connection belongs to. The notification channel
// only uses UserID.
type Target struct {
	SessionID   string
	UserID      string
	EncounterID string
	// DisplayName is announced in the join message when set.
	DisplayName string
}

// Channel describes one protocol channel: its vocabulary, how to address it,
// which ids it requires, and what it announces on open.
type Channel struct {
	Table    protocol.Table
	URL      func(Target) (string, error)
	Validate func(Target) error
	// Join returns the envelope sent right after every successful open.
	// A nil Join sends nothing.
	Join func(Target, time.Time) (protocol.Kind, any)
}

// EncounterChannel addresses {baseURL}/ws/encounters/{encounterId}.
func EncounterChannel(baseURL string) Channel {
	return Channel{
		Table: protocol.EncounterTable,
		URL: func(target Target) (string, error) {
			return channelURL(baseURL, "/ws/encounters/"+url.PathEscape(target.EncounterID), url.Values{
				"sessionId": {target.SessionID},
				"userId":    {target.UserID},
			})
		},
		Validate: func(target Target) error {
			return requireIDs(map[string]string{
				"sessionId":   target.SessionID,
				"userId":      target.UserID,
				"encounterId": target.EncounterID,
			})
		},
		Join: func(target Target, now time.Time) (protocol.Kind, any) {
			return protocol.KindUserJoined, protocol.UserJoinedPayload{
				UserID:      target.UserID,
				DisplayName: target.DisplayName,
				SessionID:   target.SessionID,
				EncounterID: target.EncounterID,
				Timestamp:   now.UTC(),
			}
		},
	}
}

// NotificationChannel addresses {baseURL}/ws/notifications.
func NotificationChannel(baseURL string) Channel {
	return Channel{
		Table: protocol.NotificationTable,
		URL: func(target Target) (string, error) {
			return channelURL(baseURL, "/ws/notifications", url.Values{"userId": {target.UserID}})
		},
		Validate: func(target Target) error {
			return requireIDs(map[string]string{"userId": target.UserID})
		},
	}
}

func channelURL(baseURL string, path string, query url.Values) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse websocket base url: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("websocket base url scheme %q is not supported", base.Scheme)
	}
	base.Path = strings.TrimRight(base.Path, "/") + path
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func requireIDs(ids map[string]string) error {
	var missing []string
	for name, value := range ids {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return apperrors.WithMetadata(
		apperrors.CodeConnectionIDsRequired,
		"connection ids are required",
		map[string]string{"Missing": strings.Join(missing, ",")},
	)
}
