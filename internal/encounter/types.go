package encounter

import (
	"slices"
	"strings"
	"time"
)

// Type classifies an encounter.
type Type string

const (
	TypeCombat      Type = "COMBAT"
	TypeSocial      Type = "SOCIAL"
	TypePuzzle      Type = "PUZZLE"
	TypeTrap        Type = "TRAP"
	TypeExploration Type = "EXPLORATION"
)

// ParseType normalizes a wire value into a Type. Unknown values return false.
func ParseType(raw string) (Type, bool) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(raw))); t {
	case TypeCombat, TypeSocial, TypePuzzle, TypeTrap, TypeExploration:
		return t, true
	default:
		return "", false
	}
}

// Session is the cached copy of a scheduled play meeting.
type Session struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaignId"`
	SequenceNumber int       `json:"sequenceNumber"`
	Title          string    `json:"title,omitempty"`
	ScheduledAt    time.Time `json:"scheduledAt,omitempty"`
}

// Encounter is a bounded unit of play within a session.
type Encounter struct {
	ID             string   `json:"id"`
	SessionID      string   `json:"sessionId,omitempty"`
	Name           string   `json:"name"`
	Type           Type     `json:"type"`
	IsCompleted    bool     `json:"isCompleted"`
	ParticipantIDs []string `json:"participantIds"`
	// Version increases with every server-side change; zero means unversioned.
	Version int64 `json:"version,omitempty"`
}

// Clone returns a deep copy.
func (e Encounter) Clone() Encounter {
	e.ParticipantIDs = slices.Clone(e.ParticipantIDs)
	return e
}

// HasParticipant reports whether id is in the encounter.
func (e Encounter) HasParticipant(id string) bool {
	return slices.Contains(e.ParticipantIDs, id)
}

// AddParticipant appends id unless present and reports whether it changed.
func (e *Encounter) AddParticipant(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || e.HasParticipant(id) {
		return false
	}
	e.ParticipantIDs = append(e.ParticipantIDs, id)
	return true
}

// RemoveParticipant drops id and reports whether it changed.
func (e *Encounter) RemoveParticipant(id string) bool {
	idx := slices.Index(e.ParticipantIDs, id)
	if idx < 0 {
		return false
	}
	e.ParticipantIDs = slices.Delete(e.ParticipantIDs, idx, idx+1)
	return true
}

// InitiativeRoll is one caller-supplied initiative result.
type InitiativeRoll struct {
	ParticipantID string `json:"participantId"`
	Roll          int    `json:"roll"`
}

// InitiativeEntry is one slot in the initiative order.
type InitiativeEntry struct {
	ParticipantID   string `json:"participantId"`
	InitiativeScore int    `json:"initiativeScore"`
}

// Health is the last reported hit point state of a participant.
type Health struct {
	ParticipantID string `json:"participantId"`
	Current       int    `json:"currentHp"`
	Max           int    `json:"maxHp,omitempty"`
}

// ActionKind enumerates combat action intents.
type ActionKind string

const (
	ActionAttack      ActionKind = "ATTACK"
	ActionCastSpell   ActionKind = "CAST_SPELL"
	ActionUseItem     ActionKind = "USE_ITEM"
	ActionAdvanceTurn ActionKind = "ADVANCE_TURN"
	ActionOther       ActionKind = "OTHER"
)

// ActionIntent is a user-initiated combat action. Roll carries a result the
// caller already produced; nothing here generates randomness.
type ActionIntent struct {
	Kind     ActionKind `json:"actionType"`
	ActorID  string     `json:"actorId"`
	TargetID string     `json:"targetId,omitempty"`
	ItemID   string     `json:"itemId,omitempty"`
	SpellID  string     `json:"spellId,omitempty"`
	Roll     *int       `json:"roll,omitempty"`
	Amount   *int       `json:"amount,omitempty"`
	Note     string     `json:"note,omitempty"`
}

// PerformedAction is a logged action as the backend reports it.
type PerformedAction struct {
	ActionIntent
	ID          string    `json:"id,omitempty"`
	EncounterID string    `json:"encounterId,omitempty"`
	Round       int       `json:"round,omitempty"`
	Result      string    `json:"result,omitempty"`
	PerformedAt time.Time `json:"performedAt,omitempty"`
}

// ConnectedUser is a human currently joined to a room.
type ConnectedUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Online      bool   `json:"online"`
}

// Position is a screen position on the shared board.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
