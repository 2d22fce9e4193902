// Package turn gates combat operations on the mirrored combat state and sends
// them to the authoritative server. Local state only changes when the
// synchronizer observes the server's result; nothing is applied optimistically
// and failed calls are never retried.
package turn

import (
	"context"
	"log"

	"github.com/louisbranch/tableroom/internal/encounter"
	"github.com/louisbranch/tableroom/internal/gameapi"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
	"github.com/louisbranch/tableroom/internal/realtime/roomstate"
)

// State is the coordinator state machine position.
type State string

const (
	StateNoCombat State = "NO_COMBAT"
	StateActive   State = "ACTIVE"
)

// API is the combat part of the REST boundary.
type API interface {
	StartCombat(ctx context.Context, encounterID string, rolls []encounter.InitiativeRoll) (*encounter.CombatState, error)
	NextTurn(ctx context.Context, encounterID string) (*encounter.CombatState, error)
	EndCombat(ctx context.Context, encounterID string) error
	PerformAction(ctx context.Context, encounterID string, intent encounter.ActionIntent) (gameapi.ActionResult, error)
}

// Mirror exposes the synchronized room state.
type Mirror interface {
	Snapshot() roomstate.Snapshot
	Refresh(ctx context.Context) error
}

// Sender delivers best-effort hints over the realtime channel.
type Sender interface {
	Send(kind protocol.Kind, data any) bool
}

// Coordinator drives combat for one encounter.
type Coordinator struct {
	api         API
	mirror      Mirror
	sender      Sender
	encounterID string
	logf        func(string, ...any)
}

// New builds a coordinator. sender may be nil, in which case no hints are
// sent.
func New(encounterID string, api API, mirror Mirror, sender Sender, logf func(string, ...any)) *Coordinator {
	if logf == nil {
		logf = log.Printf
	}
	return &Coordinator{
		api:         api,
		mirror:      mirror,
		sender:      sender,
		encounterID: encounterID,
		logf:        logf,
	}
}

// State reports NO_COMBAT or ACTIVE from the mirrored snapshot.
func (c *Coordinator) State() State {
	if c.mirror.Snapshot().CombatActive() {
		return StateActive
	}
	return StateNoCombat
}

// StartCombat submits initiative rolls. It requires a combat encounter that
// is not completed and has no running combat.
func (c *Coordinator) StartCombat(ctx context.Context, rolls []encounter.InitiativeRoll) (*encounter.CombatState, error) {
	snap := c.mirror.Snapshot()
	if snap.Encounter == nil {
		return nil, apperrors.New(apperrors.CodeEncounterMissing, "encounter is not loaded")
	}
	if snap.Encounter.Type != encounter.TypeCombat {
		return nil, apperrors.WithMetadata(apperrors.CodeEncounterNotCombat, "encounter is not a combat encounter",
			map[string]string{"Type": string(snap.Encounter.Type)})
	}
	if snap.Encounter.IsCompleted {
		return nil, apperrors.New(apperrors.CodeEncounterCompleted, "encounter is completed")
	}
	if snap.CombatActive() {
		return nil, apperrors.New(apperrors.CodeCombatAlreadyActive, "combat is already active")
	}
	if _, err := encounter.BuildInitiativeOrder(rolls); err != nil {
		return nil, err
	}

	state, err := c.api.StartCombat(ctx, c.encounterID, rolls)
	if err != nil {
		return nil, err
	}
	c.refresh(ctx, "start combat")
	return state, nil
}

// NextTurn asks the server to advance the turn pointer.
func (c *Coordinator) NextTurn(ctx context.Context) (*encounter.CombatState, error) {
	if err := c.requireActive(); err != nil {
		return nil, err
	}
	state, err := c.api.NextTurn(ctx, c.encounterID)
	if err != nil {
		return nil, err
	}
	c.refresh(ctx, "next turn")
	return state, nil
}

// EndCombat asks the server to end the running combat.
func (c *Coordinator) EndCombat(ctx context.Context) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	if err := c.api.EndCombat(ctx, c.encounterID); err != nil {
		return err
	}
	c.refresh(ctx, "end combat")
	return nil
}

// PerformAction submits intent for resolution. The turn pointer does not
// move. Once the server accepts the action a PERFORM_ACTION hint is sent so
// other clients can react before the canonical broadcast arrives.
func (c *Coordinator) PerformAction(ctx context.Context, intent encounter.ActionIntent) (gameapi.ActionResult, error) {
	if err := c.requireActive(); err != nil {
		return gameapi.ActionResult{}, err
	}
	if err := intent.Validate(); err != nil {
		return gameapi.ActionResult{}, err
	}
	result, err := c.api.PerformAction(ctx, c.encounterID, intent)
	if err != nil {
		return gameapi.ActionResult{}, err
	}
	if c.sender != nil && !c.sender.Send(protocol.KindPerformAction, intent) {
		c.logf("turn: %s: action hint not sent, channel closed", c.encounterID)
	}
	return result, nil
}

func (c *Coordinator) requireActive() error {
	if c.State() != StateActive {
		return apperrors.New(apperrors.CodeCombatNotActive, "combat is not active")
	}
	return nil
}

// refresh pulls the combat state after a confirmed call. A failure leaves
// the push and poll paths to converge.
func (c *Coordinator) refresh(ctx context.Context, op string) {
	if err := c.mirror.Refresh(ctx); err != nil {
		c.logf("turn: %s: refresh after %s: %v", c.encounterID, op, err)
	}
}
