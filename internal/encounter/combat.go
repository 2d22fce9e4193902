package encounter

import (
	"cmp"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
)

// CombatState is the turn-tracking sub-resource of an encounter. A nil
// *CombatState means no combat is running.
type CombatState struct {
	EncounterID      string            `json:"encounterId,omitempty"`
	IsActive         bool              `json:"isActive"`
	CurrentRound     int               `json:"currentRound"`
	InitiativeOrder  []InitiativeEntry `json:"initiativeOrder"`
	CurrentTurnIndex int               `json:"currentTurnIndex"`
	Version          int64             `json:"version,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy. Clone of nil is nil.
func (c *CombatState) Clone() *CombatState {
	if c == nil {
		return nil
	}
	out := *c
	out.InitiativeOrder = slices.Clone(c.InitiativeOrder)
	return &out
}

// Validate checks the turn pointer and round invariants of an active state.
func (c *CombatState) Validate() error {
	if c == nil || !c.IsActive {
		return nil
	}
	if len(c.InitiativeOrder) == 0 {
		return apperrors.New(apperrors.CodeProtocolInvalidState, "active combat has empty initiative order")
	}
	if c.CurrentTurnIndex < 0 || c.CurrentTurnIndex >= len(c.InitiativeOrder) {
		return apperrors.WithMetadata(
			apperrors.CodeProtocolInvalidState,
			"current turn index out of range",
			map[string]string{"EncounterID": c.EncounterID},
		)
	}
	if c.CurrentRound < 1 {
		return apperrors.New(apperrors.CodeProtocolInvalidState, "current round must be at least 1")
	}
	return nil
}

// Current returns the entry holding the turn, if any.
func (c *CombatState) Current() (InitiativeEntry, bool) {
	if c == nil || !c.IsActive || c.CurrentTurnIndex < 0 || c.CurrentTurnIndex >= len(c.InitiativeOrder) {
		return InitiativeEntry{}, false
	}
	return c.InitiativeOrder[c.CurrentTurnIndex], true
}

// BuildInitiativeOrder sorts rolls descending by roll. Ties keep submission
// order.
func BuildInitiativeOrder(rolls []InitiativeRoll) ([]InitiativeEntry, error) {
	if len(rolls) == 0 {
		return nil, apperrors.New(apperrors.CodeInitiativeEmpty, "at least one initiative roll is required")
	}
	seen := make(map[string]struct{}, len(rolls))
	order := make([]InitiativeEntry, 0, len(rolls))
	for _, roll := range rolls {
		participantID := strings.TrimSpace(roll.ParticipantID)
		if participantID == "" {
			return nil, apperrors.New(apperrors.CodeActionRejected, "initiative roll participant id is required")
		}
		if _, dup := seen[participantID]; dup {
			return nil, apperrors.WithMetadata(
				apperrors.CodeInitiativeDuplicate,
				"participant rolled initiative twice",
				map[string]string{"ParticipantID": participantID},
			)
		}
		seen[participantID] = struct{}{}
		order = append(order, InitiativeEntry{ParticipantID: participantID, InitiativeScore: roll.Roll})
	}
	slices.SortStableFunc(order, func(a, b InitiativeEntry) int {
		return cmp.Compare(b.InitiativeScore, a.InitiativeScore)
	})
	return order, nil
}

// NewCombat builds the opening state for a combat: round 1, first slot.
func NewCombat(encounterID string, rolls []InitiativeRoll, now time.Time) (*CombatState, error) {
	order, err := BuildInitiativeOrder(rolls)
	if err != nil {
		return nil, err
	}
	return &CombatState{
		EncounterID:      encounterID,
		IsActive:         true,
		CurrentRound:     1,
		InitiativeOrder:  order,
		CurrentTurnIndex: 0,
		Version:          1,
		UpdatedAt:        now.UTC(),
	}, nil
}

// Advance returns the state after the current turn ends. Passing the last
// slot wraps to the first and starts a new round.
func Advance(state *CombatState, now time.Time) (*CombatState, error) {
	if state == nil || !state.IsActive {
		return nil, apperrors.New(apperrors.CodeCombatNotActive, "combat is not active")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	next := state.Clone()
	next.CurrentTurnIndex++
	if next.CurrentTurnIndex >= len(next.InitiativeOrder) {
		next.CurrentTurnIndex = 0
		next.CurrentRound++
	}
	next.Version++
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Validate checks that an intent names an actor and a known kind.
func (a ActionIntent) Validate() error {
	if strings.TrimSpace(a.ActorID) == "" {
		return apperrors.New(apperrors.CodeActionActorMissing, "action actor id is required")
	}
	switch a.Kind {
	case ActionAttack, ActionCastSpell, ActionUseItem, ActionAdvanceTurn, ActionOther:
		return nil
	default:
		return apperrors.WithMetadata(
			apperrors.CodeActionRejected,
			"unknown action type",
			map[string]string{"ActionType": string(a.Kind)},
		)
	}
}
