// Package room owns everything a client holds while it is inside one
// encounter: the channel, the dispatcher, the mirrored state, the roster,
// and the combat coordinator. A Room is created on entry and closed on exit;
// nothing it starts outlives Close.
package room

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/tableroom/internal/auth/token"
	"github.com/louisbranch/tableroom/internal/encounter"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/realtime/conn"
	"github.com/louisbranch/tableroom/internal/realtime/dispatch"
	"github.com/louisbranch/tableroom/internal/realtime/presence"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
	"github.com/louisbranch/tableroom/internal/realtime/roomstate"
	"github.com/louisbranch/tableroom/internal/realtime/turn"
)

// API is the REST boundary a room reads and drives.
type API interface {
	roomstate.API
	turn.API
	GetSession(ctx context.Context, sessionID string) (encounter.Session, error)
}

// Config identifies the room to enter.
type Config struct {
	// BaseURL is the game server root; the channel URL is derived from it.
	BaseURL     string
	Token       string
	SessionID   string
	EncounterID string
	// UserID and DisplayName default to the token's claims.
	UserID       string
	DisplayName  string
	PollInterval time.Duration
	OnChange     func(roomstate.Snapshot)
	// Conn carries transport overrides; Channel and Token are always set
	// from this config.
	Conn conn.Options
	Now  func() time.Time
	Logf func(string, ...any)
}

// Room is one joined encounter.
type Room struct {
	target     conn.Target
	dispatcher *dispatch.Dispatcher
	manager    *conn.Manager
	state      *roomstate.Synchronizer
	presence   *presence.Tracker
	combat     *turn.Coordinator
	closeOnce  sync.Once
	closed     atomic.Bool
}

// Open loads the session and encounter, wires the room components, and
// connects. The returned room is connected and has sent its join.
func Open(ctx context.Context, cfg Config, api API) (*Room, error) {
	if api == nil {
		return nil, apperrors.New(apperrors.CodeConnectionFailed, "game api is required")
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	target, err := resolveTarget(cfg, now)
	if err != nil {
		return nil, err
	}

	session, err := api.GetSession(ctx, target.SessionID)
	if err != nil {
		return nil, err
	}
	enc, err := api.GetEncounter(ctx, target.EncounterID)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(logf)
	connOpts := cfg.Conn
	connOpts.Channel = conn.EncounterChannel(cfg.BaseURL)
	connOpts.Token = cfg.Token
	connOpts.Now = now
	connOpts.Logf = logf
	manager := conn.New(d, connOpts)

	state := roomstate.New(api, roomstate.Options{
		EncounterID:  target.EncounterID,
		PollInterval: cfg.PollInterval,
		OnChange:     cfg.OnChange,
		Logf:         logf,
	})
	state.Attach(d)
	state.Seed(&session, &enc)

	roster := presence.New(target.UserID, target.DisplayName, logf)
	roster.Attach(d)

	r := &Room{
		target:     target,
		dispatcher: d,
		manager:    manager,
		state:      state,
		presence:   roster,
		combat:     turn.New(target.EncounterID, api, state, manager, logf),
	}
	if err := manager.Connect(ctx, target); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// resolveTarget fills the user from the token. An expired token fails here
// rather than at the handshake.
func resolveTarget(cfg Config, now func() time.Time) (conn.Target, error) {
	target := conn.Target{
		SessionID:   strings.TrimSpace(cfg.SessionID),
		EncounterID: strings.TrimSpace(cfg.EncounterID),
		UserID:      strings.TrimSpace(cfg.UserID),
		DisplayName: strings.TrimSpace(cfg.DisplayName),
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return target, nil
	}
	claims, err := token.Inspect(cfg.Token, now)
	if err != nil {
		return conn.Target{}, err
	}
	if target.UserID == "" {
		target.UserID = claims.UserID
	} else if target.UserID != claims.UserID {
		return conn.Target{}, apperrors.WithMetadata(
			apperrors.CodeTokenInvalid,
			"token belongs to another user",
			map[string]string{"UserID": target.UserID},
		)
	}
	if target.DisplayName == "" {
		target.DisplayName = claims.DisplayName
	}
	return target, nil
}

// Close disconnects and stops every background task. It is safe to call
// more than once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.state.Close()
		r.presence.Detach()
		r.manager.Disconnect()
	})
}

// Reconnect dials the channel again for the same target, for use after the
// manager has given up on automatic retries. Subscriptions stay attached and
// the server answers the new join with a fresh INITIAL_STATE.
func (r *Room) Reconnect(ctx context.Context) error {
	if r.closed.Load() {
		return apperrors.New(apperrors.CodeConnectionClosed, "room is closed")
	}
	return r.manager.Connect(ctx, r.target)
}

// Target returns the room identity.
func (r *Room) Target() conn.Target {
	return r.target
}

// Dispatcher exposes the room's dispatcher for additional subscribers.
func (r *Room) Dispatcher() *dispatch.Dispatcher {
	return r.dispatcher
}

// Status returns the channel status.
func (r *Room) Status() conn.Status {
	return r.manager.Status()
}

// Snapshot returns a copy of the mirrored state.
func (r *Room) Snapshot() roomstate.Snapshot {
	return r.state.Snapshot()
}

// Users returns the connected roster in join order.
func (r *Room) Users() []encounter.ConnectedUser {
	return r.presence.Users()
}

// Positions returns the last reported board positions.
func (r *Room) Positions() map[string]encounter.Position {
	return r.presence.Positions()
}

// Combat returns the combat coordinator.
func (r *Room) Combat() *turn.Coordinator {
	return r.combat
}

// RollDice shares a roll the caller already made.
func (r *Room) RollDice(roll protocol.DiceRollPayload) bool {
	if strings.TrimSpace(roll.Dice) == "" {
		return false
	}
	return r.manager.Send(protocol.KindDiceRoll, roll)
}

// AddNPC asks the server to place an NPC.
func (r *Room) AddNPC(npc protocol.AddNPCPayload) bool {
	if strings.TrimSpace(npc.Name) == "" {
		return false
	}
	return r.manager.Send(protocol.KindAddNPC, npc)
}

// UpdatePosition shares a board position for participantID, or for the
// local user when participantID is empty.
func (r *Room) UpdatePosition(participantID string, pos encounter.Position) bool {
	return r.manager.Send(protocol.KindPlayerPositionUpdate, protocol.PositionPayload{
		UserID:        r.target.UserID,
		ParticipantID: strings.TrimSpace(participantID),
		X:             pos.X,
		Y:             pos.Y,
	})
}

// SendChat posts a chat line. Blank messages are not sent.
func (r *Room) SendChat(message string) bool {
	message = strings.TrimSpace(message)
	if message == "" {
		return false
	}
	return r.manager.Send(protocol.KindChatMessage, protocol.ChatMessagePayload{Message: message})
}
