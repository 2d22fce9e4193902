package server

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/tableroom/internal/encounter"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// maxActionLog bounds the per-encounter action history.
const maxActionLog = 200

// wsFrame is the wire envelope in both directions.
type wsFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
	userID  string
	name    string
}

func newWSPeer(encoder *json.Encoder, userID string, name string) *wsPeer {
	return &wsPeer{encoder: encoder, userID: userID, name: name}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *wsPeer) send(kind protocol.Kind, data any, userID string, now time.Time) error {
	return p.writeFrame(newFrame(kind, data, userID, now))
}

func newFrame(kind protocol.Kind, data any, userID string, now time.Time) wsFrame {
	return wsFrame{
		Type:      string(kind),
		Data:      mustJSON(data),
		UserID:    userID,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// roomHub owns every session, encounter room, and notification inbox.
type roomHub struct {
	mu       sync.Mutex
	sessions map[string]encounter.Session
	rooms    map[string]*encounterRoom
	inboxes  map[string]*inbox
	now      func() time.Time
}

func newRoomHub(now func() time.Time) *roomHub {
	if now == nil {
		now = time.Now
	}
	return &roomHub{
		sessions: make(map[string]encounter.Session),
		rooms:    make(map[string]*encounterRoom),
		inboxes:  make(map[string]*inbox),
		now:      now,
	}
}

func (h *roomHub) putSession(session encounter.Session) {
	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()
}

func (h *roomHub) session(sessionID string) (encounter.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[sessionID]
	return session, ok
}

// putEncounter registers an encounter and returns its room.
func (h *roomHub) putEncounter(enc encounter.Encounter) *encounterRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	if enc.Version == 0 {
		enc.Version = 1
	}
	room := newEncounterRoom(enc)
	h.rooms[enc.ID] = room
	return room
}

func (h *roomHub) room(encounterID string) (*encounterRoom, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[encounterID]
	if !ok {
		return nil, apperrors.WithMetadata(
			apperrors.CodeNotFound,
			"encounter not found",
			map[string]string{"EncounterID": encounterID},
		)
	}
	return room, nil
}

func (h *roomHub) inbox(userID string) *inbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	box, ok := h.inboxes[userID]
	if !ok {
		box = newInbox()
		h.inboxes[userID] = box
	}
	return box
}

func (h *roomHub) allInboxes() []*inbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Collect(maps.Values(h.inboxes))
}

type roomMember struct {
	seq     int64
	userID  string
	name    string
	session string
}

// encounterRoom is the authoritative state of one encounter plus the peers
// subscribed to it.
type encounterRoom struct {
	mu            sync.Mutex
	encounter     encounter.Encounter
	combat        *encounter.CombatState
	combatVersion int64
	health        map[string]encounter.Health
	actions       []encounter.PerformedAction
	members       map[*wsPeer]roomMember
	nextJoin      int64
}

func newEncounterRoom(enc encounter.Encounter) *encounterRoom {
	return &encounterRoom{
		encounter: enc.Clone(),
		health:    make(map[string]encounter.Health),
		members:   make(map[*wsPeer]roomMember),
	}
}

func (r *encounterRoom) snapshot() encounter.Encounter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.encounter.Clone()
}

func (r *encounterRoom) combatState() *encounter.CombatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.combat.Clone()
}

// join subscribes peer and returns the join payload for the newcomer along
// with the peers that should hear about it.
func (r *encounterRoom) join(peer *wsPeer, sessionID string) (encounter.Encounter, *encounter.CombatState, []encounter.Health, []encounter.ConnectedUser, []*wsPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	others := r.peersLocked(peer)
	if _, ok := r.members[peer]; !ok {
		r.nextJoin++
		r.members[peer] = roomMember{seq: r.nextJoin, userID: peer.userID, name: peer.name, session: sessionID}
	}
	return r.encounter.Clone(), r.combat.Clone(), r.healthLocked(), r.usersLocked(), others
}

// leave unsubscribes peer. It returns the remaining peers and whether peer's
// user has no other connection in the room.
func (r *encounterRoom) leave(peer *wsPeer) ([]*wsPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[peer]; !ok {
		return nil, false
	}
	delete(r.members, peer)
	gone := true
	for _, m := range r.members {
		if m.userID == peer.userID {
			gone = false
			break
		}
	}
	return r.peersLocked(nil), gone
}

func (r *encounterRoom) peers() []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked(nil)
}

func (r *encounterRoom) peersLocked(except *wsPeer) []*wsPeer {
	out := make([]*wsPeer, 0, len(r.members))
	for peer := range r.members {
		if peer != except {
			out = append(out, peer)
		}
	}
	return out
}

// usersLocked lists distinct users in join order.
func (r *encounterRoom) usersLocked() []encounter.ConnectedUser {
	members := slices.Collect(maps.Values(r.members))
	slices.SortFunc(members, func(a, b roomMember) int { return int(a.seq - b.seq) })
	seen := make(map[string]struct{}, len(members))
	users := make([]encounter.ConnectedUser, 0, len(members))
	for _, m := range members {
		if _, dup := seen[m.userID]; dup {
			continue
		}
		seen[m.userID] = struct{}{}
		users = append(users, encounter.ConnectedUser{UserID: m.userID, DisplayName: m.name, Online: true})
	}
	return users
}

func (r *encounterRoom) healthLocked() []encounter.Health {
	keys := slices.Sorted(maps.Keys(r.health))
	out := make([]encounter.Health, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.health[k])
	}
	return out
}

func (r *encounterRoom) setHealth(h encounter.Health) {
	r.mu.Lock()
	r.health[h.ParticipantID] = h
	r.mu.Unlock()
}

func (r *encounterRoom) addParticipant(participantID string) (encounter.Encounter, bool, []*wsPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.encounter.AddParticipant(participantID)
	if changed {
		r.encounter.Version++
	}
	return r.encounter.Clone(), changed, r.peersLocked(nil)
}

func (r *encounterRoom) removeParticipant(participantID string) (encounter.Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.encounter.RemoveParticipant(participantID) {
		return encounter.Encounter{}, apperrors.WithMetadata(
			apperrors.CodeNotFound,
			"participant not in encounter",
			map[string]string{"ParticipantID": participantID},
		)
	}
	delete(r.health, participantID)
	r.encounter.Version++
	return r.encounter.Clone(), nil
}

func (r *encounterRoom) startCombat(rolls []encounter.InitiativeRoll, now time.Time) (*encounter.CombatState, []*wsPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.encounter.Type != encounter.TypeCombat:
		return nil, nil, apperrors.New(apperrors.CodeEncounterNotCombat, "encounter is not a combat encounter")
	case r.encounter.IsCompleted:
		return nil, nil, apperrors.New(apperrors.CodeEncounterCompleted, "encounter is completed")
	case r.combat != nil:
		return nil, nil, apperrors.New(apperrors.CodeCombatAlreadyActive, "combat is already active")
	}
	for _, roll := range rolls {
		if !r.encounter.HasParticipant(strings.TrimSpace(roll.ParticipantID)) {
			return nil, nil, apperrors.WithMetadata(
				apperrors.CodeActionRejected,
				"initiative roll for unknown participant",
				map[string]string{"ParticipantID": roll.ParticipantID},
			)
		}
	}
	state, err := encounter.NewCombat(r.encounter.ID, rolls, now)
	if err != nil {
		return nil, nil, err
	}
	r.combatVersion++
	state.Version = r.combatVersion
	r.combat = state
	return state.Clone(), r.peersLocked(nil), nil
}

func (r *encounterRoom) nextTurn(now time.Time) (*encounter.CombatState, []*wsPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.advanceLocked(now); err != nil {
		return nil, nil, err
	}
	return r.combat.Clone(), r.peersLocked(nil), nil
}

func (r *encounterRoom) advanceLocked(now time.Time) error {
	next, err := encounter.Advance(r.combat, now)
	if err != nil {
		return err
	}
	r.combatVersion = next.Version
	r.combat = next
	return nil
}

// endCombat clears combat and returns the version that closes it.
func (r *encounterRoom) endCombat() (int64, []*wsPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.combat == nil {
		return 0, nil, apperrors.New(apperrors.CodeCombatNotActive, "combat is not active")
	}
	r.combatVersion++
	r.combat = nil
	return r.combatVersion, r.peersLocked(nil), nil
}

// performAction resolves intent against the running combat. Attacks with an
// amount reduce the target's hit points; ADVANCE_TURN moves the turn.
func (r *encounterRoom) performAction(intent encounter.ActionIntent, actionID string, now time.Time) (protocol.ActionPerformedPayload, []*wsPeer, error) {
	if err := intent.Validate(); err != nil {
		return protocol.ActionPerformedPayload{}, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.combat == nil {
		return protocol.ActionPerformedPayload{}, nil, apperrors.New(apperrors.CodeCombatNotActive, "combat is not active")
	}
	if !r.encounter.HasParticipant(intent.ActorID) {
		return protocol.ActionPerformedPayload{}, nil, apperrors.WithMetadata(
			apperrors.CodeActionRejected,
			"actor is not in the encounter",
			map[string]string{"ActorID": intent.ActorID},
		)
	}

	action := encounter.PerformedAction{
		ActionIntent: intent,
		ID:           actionID,
		EncounterID:  r.encounter.ID,
		Round:        r.combat.CurrentRound,
		PerformedAt:  now.UTC(),
	}
	var changed []encounter.Health
	switch intent.Kind {
	case encounter.ActionAttack:
		action.Result = "miss"
		if intent.TargetID != "" && intent.Amount != nil && *intent.Amount > 0 {
			target := r.health[intent.TargetID]
			target.ParticipantID = intent.TargetID
			target.Current = max(target.Current-*intent.Amount, 0)
			r.health[intent.TargetID] = target
			changed = append(changed, target)
			action.Result = "hit"
		}
	case encounter.ActionAdvanceTurn:
		if err := r.advanceLocked(now); err != nil {
			return protocol.ActionPerformedPayload{}, nil, err
		}
		action.Result = "turn advanced"
	default:
		action.Result = "resolved"
	}

	r.actions = append(r.actions, action)
	if over := len(r.actions) - maxActionLog; over > 0 {
		r.actions = slices.Delete(r.actions, 0, over)
	}
	return protocol.ActionPerformedPayload{
		Action:      action,
		CombatState: r.combat.Clone(),
		Health:      changed,
	}, r.peersLocked(nil), nil
}

// inbox holds one user's notifications, newest first, and their open
// notification connections.
type inbox struct {
	mu    sync.Mutex
	items []protocol.Notification
	peers map[*wsPeer]struct{}
}

func newInbox() *inbox {
	return &inbox{peers: make(map[*wsPeer]struct{})}
}

func (b *inbox) join(peer *wsPeer) protocol.NotificationsConnectedPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[peer] = struct{}{}
	return protocol.NotificationsConnectedPayload{
		UnreadCount:   b.unreadLocked(),
		Notifications: slices.Clone(b.items),
	}
}

func (b *inbox) leave(peer *wsPeer) {
	b.mu.Lock()
	delete(b.peers, peer)
	b.mu.Unlock()
}

func (b *inbox) subscribers() []*wsPeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Collect(maps.Keys(b.peers))
}

func (b *inbox) unreadLocked() int {
	count := 0
	for _, n := range b.items {
		if !n.Read {
			count++
		}
	}
	return count
}

func (b *inbox) push(n protocol.Notification) (int, []*wsPeer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = slices.Insert(b.items, 0, n)
	return b.unreadLocked(), slices.Collect(maps.Keys(b.peers))
}

// markRead marks one notification and reports whether it was found.
func (b *inbox) markRead(notificationID string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := slices.IndexFunc(b.items, func(n protocol.Notification) bool { return n.ID == notificationID })
	if idx < 0 {
		return b.unreadLocked(), false
	}
	b.items[idx].Read = true
	return b.unreadLocked(), true
}

func (b *inbox) markAllRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i].Read = true
	}
}

func (b *inbox) remove(notificationID string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := slices.IndexFunc(b.items, func(n protocol.Notification) bool { return n.ID == notificationID })
	if idx < 0 {
		return b.unreadLocked(), false
	}
	b.items = slices.Delete(b.items, idx, idx+1)
	return b.unreadLocked(), true
}
