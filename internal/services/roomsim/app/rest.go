package server

import (
	"net/http"
	"strings"

	"github.com/louisbranch/tableroom/internal/encounter"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/platform/requestctx"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// maxRequestBytes bounds REST request bodies.
const maxRequestBytes = 64 << 10

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	session, ok := s.hub.session(sessionID)
	if !ok {
		s.writeError(w, apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"SessionID": sessionID}))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCreateEncounter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
		Type      string `json:"type"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if _, ok := s.hub.session(req.SessionID); !ok {
		s.writeError(w, apperrors.WithMetadata(apperrors.CodeNotFound, "session not found", map[string]string{"SessionID": req.SessionID}))
		return
	}
	kind, ok := encounter.ParseType(req.Type)
	if !ok {
		s.writeError(w, apperrors.WithMetadata(apperrors.CodeActionRejected, "unknown encounter type", map[string]string{"Type": req.Type}))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, apperrors.New(apperrors.CodeActionRejected, "encounter name is required"))
		return
	}
	encounterID, err := s.newID()
	if err != nil {
		s.writeError(w, err)
		return
	}
	room := s.hub.putEncounter(encounter.Encounter{
		ID:             encounterID,
		SessionID:      req.SessionID,
		Name:           name,
		Type:           kind,
		ParticipantIDs: []string{},
	})
	writeJSON(w, http.StatusCreated, room.snapshot())
}

func (s *Server) handleGetEncounter(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room.snapshot())
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		ParticipantID string `json:"participantId"`
		Name          string `json:"name"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ParticipantID) == "" {
		s.writeError(w, apperrors.New(apperrors.CodeActionRejected, "participant id is required"))
		return
	}
	enc, changed, peers := room.addParticipant(req.ParticipantID)
	if changed {
		s.broadcast(peers, protocol.KindParticipantAdded, protocol.ParticipantAddedPayload{
			ParticipantID: strings.TrimSpace(req.ParticipantID),
			Name:          req.Name,
			Version:       enc.Version,
		}, requestctx.UserIDFromContext(r.Context()))
	}
	writeJSON(w, http.StatusOK, enc)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	enc, err := room.removeParticipant(r.PathValue("participantID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enc)
}

func (s *Server) handleSetHealth(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var health encounter.Health
	if !s.decodeBody(w, r, &health) {
		return
	}
	health.ParticipantID = r.PathValue("participantID")
	if !room.snapshot().HasParticipant(health.ParticipantID) {
		s.writeError(w, apperrors.WithMetadata(apperrors.CodeNotFound, "participant not in encounter", map[string]string{"ParticipantID": health.ParticipantID}))
		return
	}
	room.setHealth(health)
	s.broadcast(room.peers(), protocol.KindHealthUpdate, health, requestctx.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleGetCombat(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	state := room.combatState()
	if state == nil {
		s.writeError(w, apperrors.New(apperrors.CodeNotFound, "no active combat"))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStartCombat(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		InitiativeRolls []encounter.InitiativeRoll `json:"initiativeRolls"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	state, peers, err := room.startCombat(req.InitiativeRolls, s.hub.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcast(peers, protocol.KindCombatStarted, protocol.CombatStartedPayload{CombatState: state}, requestctx.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleNextTurn(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	state, peers, err := room.nextTurn(s.hub.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcast(peers, protocol.KindTurnChanged, turnChanged(state), requestctx.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEndCombat(w http.ResponseWriter, r *http.Request) {
	encounterID := r.PathValue("encounterID")
	room, err := s.hub.room(encounterID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	version, peers, err := room.endCombat()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcast(peers, protocol.KindCombatEnded, protocol.CombatEndedPayload{EncounterID: encounterID, Version: version}, requestctx.UserIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePerformAction(w http.ResponseWriter, r *http.Request) {
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var intent encounter.ActionIntent
	if !s.decodeBody(w, r, &intent) {
		return
	}
	actionID, err := s.newID()
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, peers, err := room.performAction(intent, actionID, s.hub.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcast(peers, protocol.KindActionPerformed, result, requestctx.UserIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePushNotification(w http.ResponseWriter, r *http.Request) {
	var n protocol.Notification
	if !s.decodeBody(w, r, &n) {
		return
	}
	if strings.TrimSpace(n.Message) == "" {
		s.writeError(w, apperrors.New(apperrors.CodeActionRejected, "notification message is required"))
		return
	}
	notificationID, err := s.newID()
	if err != nil {
		s.writeError(w, err)
		return
	}
	n.ID = notificationID
	n.Read = false
	n.CreatedAt = s.hub.now().UTC()
	unread, peers := s.hub.inbox(r.PathValue("userID")).push(n)
	s.broadcast(peers, protocol.KindNewNotification, protocol.NewNotificationPayload{Notification: n, UnreadCount: &unread}, "")
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleSystemNotification(w http.ResponseWriter, r *http.Request) {
	var payload protocol.SystemNotificationPayload
	if !s.decodeBody(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		s.writeError(w, apperrors.New(apperrors.CodeActionRejected, "notification message is required"))
		return
	}
	for _, box := range s.hub.allInboxes() {
		s.broadcast(box.subscribers(), protocol.KindSystemNotification, payload, "")
	}
	w.WriteHeader(http.StatusAccepted)
}

func turnChanged(state *encounter.CombatState) protocol.TurnChangedPayload {
	return protocol.TurnChangedPayload{
		CurrentTurnIndex: state.CurrentTurnIndex,
		CurrentRound:     state.CurrentRound,
		Version:          state.Version,
		CombatState:      state,
	}
}
