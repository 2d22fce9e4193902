// Package presence keeps the roster of humans connected to a room. It only
// reacts to explicit join and leave messages; a local disconnect marks the
// local user offline and leaves everyone else untouched.
package presence

import (
	"log"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/louisbranch/tableroom/internal/encounter"
	"github.com/louisbranch/tableroom/internal/realtime/conn"
	"github.com/louisbranch/tableroom/internal/realtime/dispatch"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// Tracker is the roster for one room. Users are listed in join order.
type Tracker struct {
	localUserID string
	localName   string
	logf        func(string, ...any)

	mu         sync.Mutex
	order      []string
	users      map[string]encounter.ConnectedUser
	positions  map[string]encounter.Position
	dispatcher *dispatch.Dispatcher
	subs       map[protocol.Kind]dispatch.Subscription
}

// New builds an empty roster for the local user.
func New(localUserID string, localName string, logf func(string, ...any)) *Tracker {
	if logf == nil {
		logf = log.Printf
	}
	return &Tracker{
		localUserID: strings.TrimSpace(localUserID),
		localName:   strings.TrimSpace(localName),
		logf:        logf,
		users:       map[string]encounter.ConnectedUser{},
		positions:   map[string]encounter.Position{},
	}
}

// Attach subscribes to presence envelopes and local connection status.
func (t *Tracker) Attach(d *dispatch.Dispatcher) {
	subs := map[protocol.Kind]dispatch.Subscription{
		protocol.KindInitialState:         d.On(protocol.KindInitialState, t.handleInitialState),
		protocol.KindUserJoined:           d.On(protocol.KindUserJoined, t.handleUserJoined),
		protocol.KindUserLeft:             d.On(protocol.KindUserLeft, t.handleUserLeft),
		protocol.KindPlayerPositionUpdate: d.On(protocol.KindPlayerPositionUpdate, t.handlePosition),
		protocol.KindConnectionStatus:     d.On(protocol.KindConnectionStatus, t.handleConnectionStatus),
	}
	t.mu.Lock()
	t.dispatcher = d
	t.subs = subs
	t.mu.Unlock()
}

// Detach removes the subscriptions made by Attach.
func (t *Tracker) Detach() {
	t.mu.Lock()
	d := t.dispatcher
	subs := t.subs
	t.dispatcher = nil
	t.subs = nil
	t.mu.Unlock()
	if d == nil {
		return
	}
	for kind, sub := range subs {
		d.Off(kind, sub)
	}
}

// Users returns the roster in join order.
func (t *Tracker) Users() []encounter.ConnectedUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]encounter.ConnectedUser, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.users[id])
	}
	return out
}

// Lookup returns one user by id.
func (t *Tracker) Lookup(userID string) (encounter.ConnectedUser, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	return u, ok
}

// Positions returns the last reported position per participant or user.
func (t *Tracker) Positions() map[string]encounter.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.positions)
}

// handleInitialState rebuilds the roster from the server's list.
func (t *Tracker) handleInitialState(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.InitialStatePayload](env)
	if err != nil {
		return err
	}
	if payload.ConnectedUsers == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = t.order[:0]
	clear(t.users)
	for _, u := range payload.ConnectedUsers {
		t.addLocked(u.UserID, u.DisplayName, u.Online)
	}
	if t.localUserID != "" {
		t.addLocked(t.localUserID, t.localName, true)
	}
	return nil
}

func (t *Tracker) handleUserJoined(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.UserJoinedPayload](env)
	if err != nil {
		return err
	}
	userID := firstNonEmpty(payload.UserID, env.UserID)
	if userID == "" {
		t.logf("presence: join without user id")
		return nil
	}
	t.mu.Lock()
	t.addLocked(userID, payload.DisplayName, true)
	t.mu.Unlock()
	return nil
}

func (t *Tracker) handleUserLeft(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.UserLeftPayload](env)
	if err != nil {
		return err
	}
	userID := firstNonEmpty(payload.UserID, env.UserID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[userID]; !ok {
		return nil
	}
	delete(t.users, userID)
	delete(t.positions, userID)
	t.order = slices.DeleteFunc(t.order, func(id string) bool { return id == userID })
	return nil
}

func (t *Tracker) handlePosition(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.PositionPayload](env)
	if err != nil {
		return err
	}
	key := firstNonEmpty(payload.ParticipantID, payload.UserID, env.UserID)
	if key == "" {
		return nil
	}
	t.mu.Lock()
	t.positions[key] = encounter.Position{X: payload.X, Y: payload.Y}
	t.mu.Unlock()
	return nil
}

// handleConnectionStatus only ever touches the local user.
func (t *Tracker) handleConnectionStatus(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.ConnectionStatusPayload](env)
	if err != nil {
		return err
	}
	if t.localUserID == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch conn.Status(payload.Status) {
	case conn.StatusConnected:
		t.addLocked(t.localUserID, t.localName, true)
	case conn.StatusDisconnected, conn.StatusReconnecting:
		if u, ok := t.users[t.localUserID]; ok {
			u.Online = false
			t.users[t.localUserID] = u
		}
	}
	return nil
}

// addLocked inserts the user once. A repeated join marks the user online and
// fills a missing display name.
func (t *Tracker) addLocked(userID string, displayName string, online bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	u, ok := t.users[userID]
	if !ok {
		t.order = append(t.order, userID)
		u = encounter.ConnectedUser{UserID: userID}
	}
	if u.DisplayName == "" {
		u.DisplayName = strings.TrimSpace(displayName)
	}
	if online {
		u.Online = true
	}
	t.users[userID] = u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
