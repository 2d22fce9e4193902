package encounter

import (
	"errors"
	"math"
	"testing"
	"time"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
)

var testNow = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func TestBuildInitiativeOrderSortsDescending(t *testing.T) {
	order, err := BuildInitiativeOrder([]InitiativeRoll{
		{ParticipantID: "A", Roll: 15},
		{ParticipantID: "B", Roll: 20},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	want := []InitiativeEntry{{ParticipantID: "B", InitiativeScore: 20}, {ParticipantID: "A", InitiativeScore: 15}}
	if len(order) != len(want) {
		t.Fatalf("order length = %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %+v, want %+v", i, order[i], want[i])
		}
	}
}

func TestBuildInitiativeOrderHandlesExtremeRolls(t *testing.T) {
	order, err := BuildInitiativeOrder([]InitiativeRoll{
		{ParticipantID: "low", Roll: math.MinInt},
		{ParticipantID: "high", Roll: math.MaxInt},
		{ParticipantID: "mid", Roll: 0},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	got := make([]string, 0, len(order))
	for _, entry := range order {
		got = append(got, entry.ParticipantID)
	}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestBuildInitiativeOrderKeepsSubmissionOrderOnTies(t *testing.T) {
	order, err := BuildInitiativeOrder([]InitiativeRoll{
		{ParticipantID: "goblin-1", Roll: 12},
		{ParticipantID: "mira", Roll: 18},
		{ParticipantID: "goblin-2", Roll: 12},
		{ParticipantID: "tor", Roll: 12},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	got := make([]string, 0, len(order))
	for _, entry := range order {
		got = append(got, entry.ParticipantID)
	}
	want := []string{"mira", "goblin-1", "goblin-2", "tor"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestBuildInitiativeOrderRejects(t *testing.T) {
	testCases := []struct {
		name  string
		rolls []InitiativeRoll
		want  apperrors.Code
	}{
		{name: "empty", rolls: nil, want: apperrors.CodeInitiativeEmpty},
		{name: "blank participant", rolls: []InitiativeRoll{{ParticipantID: " ", Roll: 3}}, want: apperrors.CodeActionRejected},
		{name: "duplicate", rolls: []InitiativeRoll{{ParticipantID: "A", Roll: 3}, {ParticipantID: "A", Roll: 9}}, want: apperrors.CodeInitiativeDuplicate},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildInitiativeOrder(tc.rolls)
			if !errors.Is(err, apperrors.New(tc.want, "")) {
				t.Fatalf("error = %v, want code %s", err, tc.want)
			}
		})
	}
}

func TestNewCombatStartsAtRoundOne(t *testing.T) {
	state, err := NewCombat("E42", []InitiativeRoll{{ParticipantID: "A", Roll: 15}, {ParticipantID: "B", Roll: 20}}, testNow)
	if err != nil {
		t.Fatalf("new combat: %v", err)
	}
	if state.CurrentRound != 1 || state.CurrentTurnIndex != 0 || !state.IsActive {
		t.Fatalf("unexpected opening state %+v", state)
	}
	holder, ok := state.Current()
	if !ok || holder.ParticipantID != "B" {
		t.Fatalf("turn holder = %+v, want B", holder)
	}
	if err := state.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestAdvanceWrapsAndIncrementsRound(t *testing.T) {
	state, err := NewCombat("E42", []InitiativeRoll{{ParticipantID: "A", Roll: 15}, {ParticipantID: "B", Roll: 20}}, testNow)
	if err != nil {
		t.Fatalf("new combat: %v", err)
	}

	second, err := Advance(state, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if second.CurrentTurnIndex != 1 || second.CurrentRound != 1 {
		t.Fatalf("after first advance = index %d round %d", second.CurrentTurnIndex, second.CurrentRound)
	}
	if state.CurrentTurnIndex != 0 {
		t.Fatal("advance must not mutate its input")
	}

	wrapped, err := Advance(second, testNow.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if wrapped.CurrentTurnIndex != 0 || wrapped.CurrentRound != 2 {
		t.Fatalf("after wrap = index %d round %d", wrapped.CurrentTurnIndex, wrapped.CurrentRound)
	}
	if wrapped.Version <= second.Version {
		t.Fatalf("version did not increase: %d -> %d", second.Version, wrapped.Version)
	}
}

func TestAdvanceKeepsTurnIndexInRange(t *testing.T) {
	state, err := NewCombat("E1", []InitiativeRoll{{ParticipantID: "A", Roll: 1}, {ParticipantID: "B", Roll: 2}, {ParticipantID: "C", Roll: 3}}, testNow)
	if err != nil {
		t.Fatalf("new combat: %v", err)
	}
	for i := 0; i < 20; i++ {
		state, err = Advance(state, testNow)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if state.CurrentTurnIndex < 0 || state.CurrentTurnIndex >= len(state.InitiativeOrder) {
			t.Fatalf("turn index %d out of range after %d advances", state.CurrentTurnIndex, i+1)
		}
	}
	if state.CurrentRound != 7 {
		t.Fatalf("round after 20 advances of 3 = %d, want 7", state.CurrentRound)
	}
}

func TestAdvanceRejectsInactive(t *testing.T) {
	if _, err := Advance(nil, testNow); !errors.Is(err, apperrors.New(apperrors.CodeCombatNotActive, "")) {
		t.Fatalf("error = %v, want combat not active", err)
	}
}

func TestValidateRejectsOutOfRangeIndex(t *testing.T) {
	state := &CombatState{IsActive: true, CurrentRound: 1, CurrentTurnIndex: 2, InitiativeOrder: []InitiativeEntry{{ParticipantID: "A"}}}
	if err := state.Validate(); !errors.Is(err, apperrors.New(apperrors.CodeProtocolInvalidState, "")) {
		t.Fatalf("error = %v, want invalid state", err)
	}
	inactive := &CombatState{IsActive: false, CurrentTurnIndex: 9}
	if err := inactive.Validate(); err != nil {
		t.Fatalf("inactive state should not be validated, got %v", err)
	}
}

func TestActionIntentValidate(t *testing.T) {
	if err := (ActionIntent{Kind: ActionAttack}).Validate(); !errors.Is(err, apperrors.New(apperrors.CodeActionActorMissing, "")) {
		t.Fatalf("error = %v, want actor missing", err)
	}
	if err := (ActionIntent{Kind: "DANCE", ActorID: "A"}).Validate(); !errors.Is(err, apperrors.New(apperrors.CodeActionRejected, "")) {
		t.Fatalf("error = %v, want rejected", err)
	}
	if err := (ActionIntent{Kind: ActionCastSpell, ActorID: "A", SpellID: "fireball"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEncounterParticipants(t *testing.T) {
	enc := Encounter{ID: "E1", ParticipantIDs: []string{"A"}}
	if !enc.AddParticipant("B") || enc.AddParticipant("B") || enc.AddParticipant(" ") {
		t.Fatalf("unexpected add results, participants %v", enc.ParticipantIDs)
	}
	clone := enc.Clone()
	if !enc.RemoveParticipant("A") || enc.RemoveParticipant("A") {
		t.Fatalf("unexpected remove results, participants %v", enc.ParticipantIDs)
	}
	if !clone.HasParticipant("A") {
		t.Fatal("clone should not share participant storage")
	}
	if typ, ok := ParseType(" combat "); !ok || typ != TypeCombat {
		t.Fatalf("ParseType = %q %v", typ, ok)
	}
}
