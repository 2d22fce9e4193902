package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/louisbranch/tableroom/internal/encounter"
	"github.com/louisbranch/tableroom/internal/gameapi"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
)

func intPtr(v int) *int { return &v }

func TestCombatLifecycleOverREST(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gameapi.New(srv.URL, "")
	ctx := context.Background()

	state, err := client.StartCombat(ctx, DemoCombatEncounterID, []encounter.InitiativeRoll{
		{ParticipantID: "pc-ash", Roll: 12},
		{ParticipantID: "gob-1", Roll: 18},
		{ParticipantID: "pc-bree", Roll: 15},
		{ParticipantID: "gob-2", Roll: 3},
	})
	if err != nil {
		t.Fatalf("start combat: %v", err)
	}
	var order []string
	for _, entry := range state.InitiativeOrder {
		order = append(order, entry.ParticipantID)
	}
	if strings.Join(order, ",") != "gob-1,pc-bree,pc-ash,gob-2" {
		t.Fatalf("initiative order = %v", order)
	}
	if state.CurrentRound != 1 || state.CurrentTurnIndex != 0 || state.Version != 1 {
		t.Fatalf("opening state = %+v", state)
	}

	for range 4 {
		state, err = client.NextTurn(ctx, DemoCombatEncounterID)
		if err != nil {
			t.Fatalf("next turn: %v", err)
		}
	}
	if state.CurrentRound != 2 || state.CurrentTurnIndex != 0 || state.Version != 5 {
		t.Fatalf("after wrap = %+v", state)
	}

	result, err := client.PerformAction(ctx, DemoCombatEncounterID, encounter.ActionIntent{
		Kind:     encounter.ActionAttack,
		ActorID:  "gob-1",
		TargetID: "pc-ash",
		Amount:   intPtr(5),
	})
	if err != nil {
		t.Fatalf("perform action: %v", err)
	}
	if result.Action.Result != "hit" || result.Action.Round != 2 {
		t.Fatalf("action = %+v", result.Action)
	}
	if len(result.Health) != 1 || result.Health[0].Current != 19 {
		t.Fatalf("health = %+v", result.Health)
	}

	if err := client.EndCombat(ctx, DemoCombatEncounterID); err != nil {
		t.Fatalf("end combat: %v", err)
	}
	current, err := client.GetCombatState(ctx, DemoCombatEncounterID)
	if err != nil {
		t.Fatalf("get combat: %v", err)
	}
	if current != nil {
		t.Fatalf("combat after end = %+v", current)
	}

	restarted, err := client.StartCombat(ctx, DemoCombatEncounterID, []encounter.InitiativeRoll{{ParticipantID: "pc-ash", Roll: 1}})
	if err != nil {
		t.Fatalf("restart combat: %v", err)
	}
	if restarted.Version <= state.Version {
		t.Fatalf("restarted version = %d, want above %d", restarted.Version, state.Version)
	}
}

func TestStartCombatRejections(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gameapi.New(srv.URL, "")
	ctx := context.Background()

	if _, err := client.StartCombat(ctx, DemoCombatEncounterID, []encounter.InitiativeRoll{{ParticipantID: "pc-ash", Roll: 10}}); err != nil {
		t.Fatalf("start combat: %v", err)
	}

	testCases := []struct {
		name        string
		encounterID string
		rolls       []encounter.InitiativeRoll
		want        apperrors.Code
	}{
		{name: "already active", encounterID: DemoCombatEncounterID, rolls: []encounter.InitiativeRoll{{ParticipantID: "pc-ash", Roll: 1}}, want: apperrors.CodeActionConflict},
		{name: "not combat", encounterID: DemoSocialEncounterID, rolls: []encounter.InitiativeRoll{{ParticipantID: "pc-ash", Roll: 1}}, want: apperrors.CodeActionRejected},
		{name: "unknown encounter", encounterID: "E404", rolls: []encounter.InitiativeRoll{{ParticipantID: "pc-ash", Roll: 1}}, want: apperrors.CodeNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.StartCombat(ctx, tc.encounterID, tc.rolls)
			if !errors.Is(err, apperrors.New(tc.want, "")) {
				t.Fatalf("error = %v, want code %s", err, tc.want)
			}
		})
	}
}

func TestStartCombatRejectsBadRolls(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gameapi.New(srv.URL, "")

	testCases := []struct {
		name  string
		rolls []encounter.InitiativeRoll
	}{
		{name: "empty", rolls: nil},
		{name: "duplicate", rolls: []encounter.InitiativeRoll{{ParticipantID: "pc-ash", Roll: 3}, {ParticipantID: "pc-ash", Roll: 9}}},
		{name: "stranger", rolls: []encounter.InitiativeRoll{{ParticipantID: "dragon", Roll: 20}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.StartCombat(context.Background(), DemoCombatEncounterID, tc.rolls)
			if apperrors.CodeOf(err) != apperrors.CodeActionRejected {
				t.Fatalf("error = %v, want rejected", err)
			}
		})
	}
}

func TestCombatRoutesRequireActiveCombat(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gameapi.New(srv.URL, "")
	ctx := context.Background()

	if _, err := client.NextTurn(ctx, DemoCombatEncounterID); apperrors.CodeOf(err) != apperrors.CodeActionConflict {
		t.Fatalf("next turn error = %v", err)
	}
	if err := client.EndCombat(ctx, DemoCombatEncounterID); apperrors.CodeOf(err) != apperrors.CodeActionConflict {
		t.Fatalf("end combat error = %v", err)
	}
	_, err := client.PerformAction(ctx, DemoCombatEncounterID, encounter.ActionIntent{Kind: encounter.ActionOther, ActorID: "pc-ash"})
	if apperrors.CodeOf(err) != apperrors.CodeActionConflict {
		t.Fatalf("perform action error = %v", err)
	}
}

func TestGetCombatWithoutCombatIsNotFound(t *testing.T) {
	_, srv := newTestServer(t, Config{})

	resp, err := http.Get(srv.URL + "/encounters/" + DemoCombatEncounterID + "/combat")
	if err != nil {
		t.Fatalf("get combat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] != "no active combat" {
		t.Fatalf("body = %v", body)
	}
}

func TestEncounterAndParticipantRoutes(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	client := gameapi.New(srv.URL, "")
	ctx := context.Background()

	session, err := client.GetSession(ctx, DemoSessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.CampaignID != DemoCampaignID || session.SequenceNumber != 3 {
		t.Fatalf("session = %+v", session)
	}

	created, err := client.CreateEncounter(ctx, gameapi.CreateEncounterRequest{SessionID: DemoSessionID, Name: "Bridge Trap", Type: encounter.TypeTrap})
	if err != nil {
		t.Fatalf("create encounter: %v", err)
	}
	if created.ID != "id1" || created.Type != encounter.TypeTrap || created.Version != 1 {
		t.Fatalf("created = %+v", created)
	}

	added, err := client.AddParticipant(ctx, created.ID, "pc-ash")
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if !added.HasParticipant("pc-ash") || added.Version != 2 {
		t.Fatalf("added = %+v", added)
	}
	again, err := client.AddParticipant(ctx, created.ID, "pc-ash")
	if err != nil {
		t.Fatalf("add participant again: %v", err)
	}
	if again.Version != 2 {
		t.Fatalf("duplicate add bumped version: %+v", again)
	}

	removed, err := client.RemoveParticipant(ctx, created.ID, "pc-ash")
	if err != nil {
		t.Fatalf("remove participant: %v", err)
	}
	if removed.HasParticipant("pc-ash") || removed.Version != 3 {
		t.Fatalf("removed = %+v", removed)
	}
	if _, err := client.RemoveParticipant(ctx, created.ID, "pc-ash"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("second remove error = %v", err)
	}

	if _, err := client.CreateEncounter(ctx, gameapi.CreateEncounterRequest{SessionID: DemoSessionID, Name: "x", Type: "DANCE"}); apperrors.CodeOf(err) != apperrors.CodeActionRejected {
		t.Fatalf("bad type error = %v", err)
	}
}

func TestTokenRequiredWhenSecretConfigured(t *testing.T) {
	_, srv := newTestServer(t, Config{TokenSecret: "dev-secret"})
	ctx := context.Background()

	if _, err := gameapi.New(srv.URL, "").GetSession(ctx, DemoSessionID); apperrors.CodeOf(err) != apperrors.CodeActionUnauthorized {
		t.Fatalf("anonymous error = %v", err)
	}
	if _, err := gameapi.New(srv.URL, "forged.token.value").GetSession(ctx, DemoSessionID); apperrors.CodeOf(err) != apperrors.CodeActionUnauthorized {
		t.Fatalf("forged error = %v", err)
	}

	signed := issueToken(t, srv.URL, DemoUserID)
	if _, err := gameapi.New(srv.URL, signed).GetSession(ctx, DemoSessionID); err != nil {
		t.Fatalf("authorized get session: %v", err)
	}
}

func issueToken(t *testing.T, baseURL string, userID string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/dev/tokens", "application/json", strings.NewReader(`{"userId":"`+userID+`","displayName":"Ash"}`))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue token status = %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return body.Token
}
