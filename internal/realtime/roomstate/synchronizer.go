// Package roomstate mirrors the server's session, encounter, and combat state
// for one room. Pushed envelopes apply low-latency updates; while combat is
// active a poller re-fetches the authoritative resources as a safety net.
//
// Every snapshot the server sends carries a version. An update older than the
// held version is discarded so a slow poll cannot clobber a newer push. The
// version that ended the last combat is remembered, so a poll that was in
// flight when combat ended cannot bring it back. Version zero is treated as
// unversioned and always applied.
//
// OnChange calls are serialized and each one receives the state as of the
// call, so the last observed snapshot always matches Snapshot.
package roomstate

import (
	"context"
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/louisbranch/tableroom/internal/encounter"
	"github.com/louisbranch/tableroom/internal/platform/timeouts"
	"github.com/louisbranch/tableroom/internal/realtime/dispatch"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// maxActions bounds the local action log.
const maxActions = 100

// API is the part of the REST boundary the synchronizer reads.
type API interface {
	GetEncounter(ctx context.Context, encounterID string) (encounter.Encounter, error)
	GetCombatState(ctx context.Context, encounterID string) (*encounter.CombatState, error)
}

// Snapshot is a copy of the mirrored room state.
type Snapshot struct {
	Session   *encounter.Session
	Encounter *encounter.Encounter
	Combat    *encounter.CombatState
	Health    map[string]encounter.Health
	Actions   []encounter.PerformedAction
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Combat:  s.Combat.Clone(),
		Health:  maps.Clone(s.Health),
		Actions: slices.Clone(s.Actions),
	}
	if s.Session != nil {
		session := *s.Session
		out.Session = &session
	}
	if s.Encounter != nil {
		enc := s.Encounter.Clone()
		out.Encounter = &enc
	}
	if out.Health == nil {
		out.Health = map[string]encounter.Health{}
	}
	return out
}

// CombatActive reports whether the snapshot holds an active combat.
func (s Snapshot) CombatActive() bool {
	return s.Combat != nil && s.Combat.IsActive
}

// Options configures a Synchronizer.
type Options struct {
	EncounterID  string
	PollInterval time.Duration
	// OnChange observes every applied change with a fresh copy. Calls never
	// overlap. It must not call back into the synchronizer's mutators.
	OnChange func(Snapshot)
	Logf     func(string, ...any)
}

// Synchronizer owns the local snapshot for one encounter.
type Synchronizer struct {
	api          API
	encounterID  string
	pollInterval time.Duration
	onChange     func(Snapshot)
	logf         func(string, ...any)

	notifyMu sync.Mutex

	mu    sync.Mutex
	state Snapshot
	// combatFloor is the highest combat version applied; endedVersion is the
	// version at which the last combat ended.
	combatFloor  int64
	endedVersion int64
	dispatcher   *dispatch.Dispatcher
	subs         map[protocol.Kind]dispatch.Subscription
	stopPoll     context.CancelFunc
	pollDone     chan struct{}
	closed       bool
}

// New builds a synchronizer for opts.EncounterID.
func New(api API, opts Options) *Synchronizer {
	s := &Synchronizer{
		api:          api,
		encounterID:  opts.EncounterID,
		pollInterval: opts.PollInterval,
		onChange:     opts.OnChange,
		logf:         opts.Logf,
		state:        Snapshot{Health: map[string]encounter.Health{}},
	}
	if s.pollInterval <= 0 {
		s.pollInterval = timeouts.Poll
	}
	if s.logf == nil {
		s.logf = log.Printf
	}
	return s
}

// Attach subscribes the push handlers on d.
func (s *Synchronizer) Attach(d *dispatch.Dispatcher) {
	handlers := map[protocol.Kind]dispatch.Handler{
		protocol.KindInitialState:     s.handleInitialState,
		protocol.KindActionPerformed:  s.handleActionPerformed,
		protocol.KindTurnChanged:      s.handleTurnChanged,
		protocol.KindCombatStarted:    s.handleCombatStarted,
		protocol.KindCombatEnded:      s.handleCombatEnded,
		protocol.KindParticipantAdded: s.handleParticipantAdded,
		protocol.KindHealthUpdate:     s.handleHealthUpdate,
	}
	subs := make(map[protocol.Kind]dispatch.Subscription, len(handlers))
	for kind, h := range handlers {
		subs[kind] = d.On(kind, h)
	}
	s.mu.Lock()
	s.dispatcher = d
	s.subs = subs
	s.mu.Unlock()
}

// Seed installs REST-loaded state before the channel opens.
func (s *Synchronizer) Seed(session *encounter.Session, enc *encounter.Encounter) {
	s.mu.Lock()
	if session != nil {
		copied := *session
		s.state.Session = &copied
	}
	if enc != nil {
		s.applyEncounterLocked(*enc)
	}
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Polling reports whether the combat poller is running.
func (s *Synchronizer) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopPoll != nil
}

// Refresh fetches the combat state on demand and applies it.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	combat, err := s.api.GetCombatState(ctx, s.encounterID)
	if err != nil {
		return err
	}
	s.applyCombat(combat, "refresh")
	return nil
}

// Close stops polling and removes the push handlers. It is safe to call more
// than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	done := s.stopPollingLocked()
	d := s.dispatcher
	subs := s.subs
	s.dispatcher = nil
	s.subs = nil
	s.mu.Unlock()

	if d != nil {
		for kind, sub := range subs {
			d.Off(kind, sub)
		}
	}
	if done != nil {
		<-done
	}
}

func (s *Synchronizer) handleInitialState(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.InitialStatePayload](env)
	if err != nil {
		return err
	}
	if payload.CombatState != nil {
		if err := payload.CombatState.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if payload.Session != nil {
		session := *payload.Session
		s.state.Session = &session
	}
	enc := payload.Encounter.Clone()
	s.state.Encounter = &enc
	s.state.Combat = activeOrNil(payload.CombatState)
	if s.state.Combat != nil {
		s.raiseFloorLocked(s.state.Combat.Version)
	}
	s.state.Health = make(map[string]encounter.Health, len(payload.Health))
	for _, h := range payload.Health {
		s.state.Health[h.ParticipantID] = h
	}
	s.syncPollingLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Synchronizer) handleActionPerformed(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.ActionPerformedPayload](env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Actions = append(s.state.Actions, payload.Action)
	if over := len(s.state.Actions) - maxActions; over > 0 {
		s.state.Actions = slices.Delete(s.state.Actions, 0, over)
	}
	for _, h := range payload.Health {
		s.state.Health[h.ParticipantID] = h
	}
	s.mu.Unlock()
	if payload.CombatState != nil {
		if s.applyCombat(payload.CombatState, "push") {
			return nil
		}
	}
	s.notify()
	return nil
}

func (s *Synchronizer) handleTurnChanged(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.TurnChangedPayload](env)
	if err != nil {
		return err
	}
	if payload.CombatState != nil {
		s.applyCombat(payload.CombatState, "push")
		return nil
	}
	s.mu.Lock()
	held := s.state.Combat
	s.mu.Unlock()
	if held == nil {
		s.logf("roomstate: %s: turn change without active combat", s.encounterID)
		return nil
	}
	next := held.Clone()
	next.CurrentTurnIndex = payload.CurrentTurnIndex
	next.CurrentRound = payload.CurrentRound
	if payload.Version != 0 {
		next.Version = payload.Version
	}
	next.UpdatedAt = env.Timestamp
	s.applyCombat(next, "push")
	return nil
}

func (s *Synchronizer) handleCombatStarted(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.CombatStartedPayload](env)
	if err != nil {
		return err
	}
	s.applyCombat(payload.CombatState, "push")
	return nil
}

func (s *Synchronizer) handleCombatEnded(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.CombatEndedPayload](env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if held := s.state.Combat; held != nil && stale(payload.Version, held.Version) {
		s.mu.Unlock()
		s.logf("roomstate: %s: ignore stale combat end v%d < v%d", s.encounterID, payload.Version, held.Version)
		return nil
	}
	s.markEndedLocked(payload.Version)
	if held := s.state.Combat; held != nil {
		s.markEndedLocked(held.Version)
	}
	s.state.Combat = nil
	s.syncPollingLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Synchronizer) handleParticipantAdded(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.ParticipantAddedPayload](env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state.Encounter == nil {
		s.mu.Unlock()
		s.logf("roomstate: %s: participant added before encounter loaded", s.encounterID)
		return nil
	}
	if stale(payload.Version, s.state.Encounter.Version) {
		s.mu.Unlock()
		return nil
	}
	s.state.Encounter.AddParticipant(payload.ParticipantID)
	if payload.Version > s.state.Encounter.Version {
		s.state.Encounter.Version = payload.Version
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Synchronizer) handleHealthUpdate(env protocol.Envelope) error {
	payload, err := protocol.DecodeData[protocol.HealthUpdatePayload](env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Health[payload.ParticipantID] = payload
	s.mu.Unlock()
	s.notify()
	return nil
}

// applyCombat installs next unless it is invalid or older than the held
// state. A nil or inactive next clears combat. It reports whether the state
// changed.
func (s *Synchronizer) applyCombat(next *encounter.CombatState, origin string) bool {
	if err := next.Validate(); err != nil {
		s.logf("roomstate: %s: reject %s combat state: %v", s.encounterID, origin, err)
		return false
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if next != nil && stale(next.Version, s.combatFloor) {
		s.mu.Unlock()
		s.logf("roomstate: %s: ignore stale %s combat state v%d < v%d", s.encounterID, origin, next.Version, s.combatFloor)
		return false
	}
	if next != nil && next.IsActive && next.Version != 0 && next.Version <= s.endedVersion {
		s.mu.Unlock()
		s.logf("roomstate: %s: ignore %s combat state v%d, combat ended at v%d", s.encounterID, origin, next.Version, s.endedVersion)
		return false
	}
	if next != nil {
		s.raiseFloorLocked(next.Version)
	}
	installed := activeOrNil(next)
	if held := s.state.Combat; held != nil && installed == nil {
		s.markEndedLocked(held.Version)
	}
	s.state.Combat = installed
	s.syncPollingLocked()
	s.mu.Unlock()
	s.notify()
	return true
}

// markEndedLocked records that combat ended at version. Active states at or
// below it are refused afterwards.
func (s *Synchronizer) markEndedLocked(version int64) {
	if version > s.endedVersion {
		s.endedVersion = version
	}
	s.raiseFloorLocked(version)
}

func (s *Synchronizer) raiseFloorLocked(version int64) {
	if version > s.combatFloor {
		s.combatFloor = version
	}
}

func (s *Synchronizer) applyEncounterLocked(next encounter.Encounter) bool {
	if held := s.state.Encounter; held != nil && stale(next.Version, held.Version) {
		return false
	}
	enc := next.Clone()
	s.state.Encounter = &enc
	return true
}

// syncPollingLocked starts or stops the poller to match the combat state.
func (s *Synchronizer) syncPollingLocked() {
	active := s.state.CombatActive() && !s.closed
	switch {
	case active && s.stopPoll == nil:
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.stopPoll = cancel
		s.pollDone = done
		go s.poll(ctx, done)
	case !active && s.stopPoll != nil:
		s.stopPollingLocked()
	}
}

// stopPollingLocked cancels the poller and returns its done channel. Callers
// must not wait on it while holding s.mu.
func (s *Synchronizer) stopPollingLocked() chan struct{} {
	if s.stopPoll == nil {
		return nil
	}
	s.stopPoll()
	done := s.pollDone
	s.stopPoll = nil
	s.pollDone = nil
	return done
}

func (s *Synchronizer) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce re-fetches the encounter and combat state. An encounter that no
// longer resolves ends combat locally.
func (s *Synchronizer) pollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, timeouts.Request)
	defer cancel()

	enc, err := s.api.GetEncounter(reqCtx, s.encounterID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logf("roomstate: %s: poll encounter failed, clearing combat: %v", s.encounterID, err)
		s.clearCombat()
		return
	}
	s.mu.Lock()
	changed := s.applyEncounterLocked(enc)
	s.mu.Unlock()

	combat, err := s.api.GetCombatState(reqCtx, s.encounterID)
	if err != nil {
		if ctx.Err() == nil {
			s.logf("roomstate: %s: poll combat state: %v", s.encounterID, err)
		}
		if changed {
			s.notify()
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !s.applyCombat(combat, "poll") && changed {
		s.notify()
	}
}

func (s *Synchronizer) clearCombat() {
	s.mu.Lock()
	if s.state.Combat == nil {
		s.mu.Unlock()
		return
	}
	s.state.Combat = nil
	s.syncPollingLocked()
	s.mu.Unlock()
	s.notify()
}

// notify delivers the current state to OnChange. Taking the copy under
// notifyMu keeps a slower caller from delivering an older snapshot after a
// newer one.
func (s *Synchronizer) notify() {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onChange(s.Snapshot())
}

func activeOrNil(state *encounter.CombatState) *encounter.CombatState {
	if state == nil || !state.IsActive {
		return nil
	}
	return state.Clone()
}

// stale reports whether an incoming version is older than the held one.
func stale(incoming, held int64) bool {
	return incoming != 0 && held != 0 && incoming < held
}
