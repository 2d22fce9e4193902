// Package room parses room client flags and runs a headless encounter client
// that mirrors one room and logs its events.
package room

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	notificationscmd "github.com/louisbranch/tableroom/internal/cmd/notifications"
	"github.com/louisbranch/tableroom/internal/gameapi"
	entrypoint "github.com/louisbranch/tableroom/internal/platform/cmd"
	"github.com/louisbranch/tableroom/internal/platform/discovery"
	"github.com/louisbranch/tableroom/internal/realtime/conn"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
	realtimeroom "github.com/louisbranch/tableroom/internal/realtime/room"
	"github.com/louisbranch/tableroom/internal/realtime/roomstate"
)

// Config holds room command configuration.
type Config struct {
	BaseURL       string        `env:"GAME_BASE_URL"`
	Token         string        `env:"ACCESS_TOKEN"`
	SessionID     string        `env:"ROOM_SESSION_ID"`
	EncounterID   string        `env:"ROOM_ENCOUNTER_ID"`
	UserID        string        `env:"USER_ID"`
	DisplayName   string        `env:"ROOM_DISPLAY_NAME"`
	PollInterval  time.Duration `env:"ROOM_POLL_INTERVAL" envDefault:"3s"`
	Notifications bool          `env:"ROOM_NOTIFICATIONS" envDefault:"false"`
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
	fs.StringVar(&cfg.SessionID, "session", cfg.SessionID, "session id")
	fs.StringVar(&cfg.EncounterID, "encounter", cfg.EncounterID, "encounter id")
	fs.StringVar(&cfg.UserID, "user-id", cfg.UserID, "user id; defaults to the token subject")
	fs.StringVar(&cfg.DisplayName, "name", cfg.DisplayName, "display name shown to other users")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "combat poll interval")
	fs.BoolVar(&cfg.Notifications, "notifications", cfg.Notifications, "also listen to the notification channel")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run joins the configured room until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRoom, func(ctx context.Context) error {
		return join(ctx, cfg, log.Printf)
	})
}

func join(ctx context.Context, cfg Config, logf func(string, ...any)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := realtimeroom.Open(gctx, realtimeroom.Config{
			BaseURL:      cfg.BaseURL,
			Token:        cfg.Token,
			SessionID:    cfg.SessionID,
			EncounterID:  cfg.EncounterID,
			UserID:       cfg.UserID,
			DisplayName:  cfg.DisplayName,
			PollInterval: cfg.PollInterval,
			OnChange:     func(snap roomstate.Snapshot) { logf("%s", describe(snap)) },
			Conn:         conn.Options{Logf: logf},
			Logf:         logf,
		}, gameapi.New(cfg.BaseURL, cfg.Token))
		if err != nil {
			return fmt.Errorf("open room: %w", err)
		}
		defer r.Close()

		notificationscmd.LogEvents(r.Dispatcher(), protocol.EncounterTable, "room", logf)
		target := r.Target()
		logf("room: joined encounter %s as %s", target.EncounterID, target.UserID)
		<-gctx.Done()
		logf("room: leaving with %d users connected", len(r.Users()))
		return nil
	})
	if cfg.Notifications {
		g.Go(func() error {
			return notificationscmd.Listen(gctx, notificationscmd.Config{
				BaseURL: cfg.BaseURL,
				Token:   cfg.Token,
				UserID:  cfg.UserID,
			}, logf)
		})
	}
	return g.Wait()
}

// describe renders the snapshot as one log line.
func describe(snap roomstate.Snapshot) string {
	if snap.Encounter == nil {
		return "room: no encounter loaded"
	}
	line := fmt.Sprintf("room: %s %q v%d participants=%d", snap.Encounter.ID, snap.Encounter.Name, snap.Encounter.Version, len(snap.Encounter.ParticipantIDs))
	if snap.Combat == nil {
		return line + " combat=none"
	}
	current := ""
	if entry, ok := snap.Combat.Current(); ok {
		current = entry.ParticipantID
	}
	return fmt.Sprintf("%s round=%d turn=%s", line, snap.Combat.CurrentRound, current)
}
