// Package notifications parses notification listener flags and streams the
// user's notification channel to the log.
package notifications

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/tableroom/internal/auth/token"
	entrypoint "github.com/louisbranch/tableroom/internal/platform/cmd"
	"github.com/louisbranch/tableroom/internal/platform/discovery"
	"github.com/louisbranch/tableroom/internal/realtime/conn"
	"github.com/louisbranch/tableroom/internal/realtime/dispatch"
	"github.com/louisbranch/tableroom/internal/realtime/notify"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// Config holds notifications command configuration.
type Config struct {
	BaseURL string `env:"GAME_BASE_URL"`
	Token   string `env:"ACCESS_TOKEN"`
	UserID  string `env:"USER_ID"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.BaseURL = discovery.OrDefaultHTTPBaseURL(cfg.BaseURL, discovery.ServiceGame)

	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "game server base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "bearer access token")
	fs.StringVar(&cfg.UserID, "user-id", cfg.UserID, "user id; defaults to the token subject")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run listens to the notification channel until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNotifications, func(ctx context.Context) error {
		return Listen(ctx, cfg, log.Printf)
	})
}

// Listen connects the notification center for cfg and logs every event
// until ctx ends.
func Listen(ctx context.Context, cfg Config, logf func(string, ...any)) error {
	userID, err := ResolveUserID(cfg.UserID, cfg.Token)
	if err != nil {
		return err
	}
	center := notify.New(notify.Options{
		BaseURL: cfg.BaseURL,
		UserID:  userID,
		Conn:    conn.Options{Token: cfg.Token, Logf: logf},
	})
	LogEvents(center.Dispatcher(), protocol.NotificationTable, "notifications", logf)
	if err := center.Connect(ctx); err != nil {
		return fmt.Errorf("connect notifications: %w", err)
	}
	defer center.Disconnect()

	<-ctx.Done()
	logf("notifications: %d unread at exit", center.Unread())
	return nil
}

// ResolveUserID returns userID, or the token's subject when userID is empty.
func ResolveUserID(userID string, rawToken string) (string, error) {
	if userID = strings.TrimSpace(userID); userID != "" || strings.TrimSpace(rawToken) == "" {
		return userID, nil
	}
	claims, err := token.Inspect(rawToken, time.Now)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// LogEvents logs every inbound kind of table plus connection status changes.
func LogEvents(d *dispatch.Dispatcher, table protocol.Table, prefix string, logf func(string, ...any)) {
	handler := func(env protocol.Envelope) error {
		if env.Kind == protocol.KindPong {
			return nil
		}
		if env.UserID != "" {
			logf("%s: %s from %s %s", prefix, env.RawType, env.UserID, env.Data)
			return nil
		}
		logf("%s: %s %s", prefix, env.RawType, env.Data)
		return nil
	}
	for _, kind := range table.InboundKinds() {
		d.On(kind, handler)
	}
	d.On(protocol.KindConnectionStatus, handler)
	d.On(protocol.KindUnknown, handler)
}
