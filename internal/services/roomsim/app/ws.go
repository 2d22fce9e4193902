package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/platform/requestctx"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

const (
	maxDecodeErrorsPerConn = 3
	maxFramesPerSecond     = 32
	maxFramePayloadBytes   = 16 << 10
)

type encounterConnKey struct{}

type encounterConn struct {
	who       requestctx.Identity
	room      *encounterRoom
	sessionID string
}

type notificationConnKey struct{}

func (s *Server) prepareEncounterConn(r *http.Request, who requestctx.Identity) (context.Context, error) {
	query := r.URL.Query()
	sessionID := strings.TrimSpace(query.Get("sessionId"))
	userID := strings.TrimSpace(query.Get("userId"))
	if sessionID == "" || userID == "" {
		return nil, apperrors.New(apperrors.CodeActionRejected, "sessionId and userId are required")
	}
	if who.UserID != "" && who.UserID != userID {
		return nil, apperrors.New(apperrors.CodeActionForbidden, "token user does not match userId")
	}
	room, err := s.hub.room(r.PathValue("encounterID"))
	if err != nil {
		return nil, err
	}
	who.UserID = userID
	return context.WithValue(r.Context(), encounterConnKey{}, encounterConn{who: who, room: room, sessionID: sessionID}), nil
}

func (s *Server) prepareNotificationConn(r *http.Request, who requestctx.Identity) (context.Context, error) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeActionRejected, "userId is required")
	}
	if who.UserID != "" && who.UserID != userID {
		return nil, apperrors.New(apperrors.CodeActionForbidden, "token user does not match userId")
	}
	return context.WithValue(r.Context(), notificationConnKey{}, userID), nil
}

// frameReader decodes frames with the same abuse limits for both channels.
type frameReader struct {
	decoder        *json.Decoder
	windowStart    time.Time
	framesInWindow int
	decodeErrors   int
}

// next returns the next frame. ok is false when the connection should close.
func (f *frameReader) next(logf func(string, ...any)) (wsFrame, bool) {
	for {
		var frame wsFrame
		if err := f.decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return wsFrame{}, false
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return wsFrame{}, false
			}
			f.decodeErrors++
			logf("roomsim: invalid frame: %v", err)
			if f.decodeErrors >= maxDecodeErrorsPerConn {
				return wsFrame{}, false
			}
			continue
		}
		f.decodeErrors = 0

		if len(frame.Data) > maxFramePayloadBytes {
			logf("roomsim: dropped %s frame: payload too large", frame.Type)
			continue
		}

		now := time.Now()
		if now.Sub(f.windowStart) >= time.Second {
			f.windowStart = now
			f.framesInWindow = 0
		}
		f.framesInWindow++
		if f.framesInWindow > maxFramesPerSecond {
			logf("roomsim: rate limit exceeded")
			return wsFrame{}, false
		}
		return frame, true
	}
}

func (s *Server) handleEncounterConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	state, ok := conn.Request().Context().Value(encounterConnKey{}).(encounterConn)
	if !ok {
		return
	}
	peer := newWSPeer(json.NewEncoder(conn), state.who.UserID, state.who.DisplayName)
	room := state.room
	joined := false
	defer func() {
		if !joined {
			return
		}
		remaining, gone := room.leave(peer)
		if gone {
			s.broadcast(remaining, protocol.KindUserLeft, protocol.UserLeftPayload{UserID: peer.userID}, peer.userID)
		}
	}()

	reader := &frameReader{decoder: json.NewDecoder(conn)}
	for {
		frame, ok := reader.next(s.logf)
		if !ok {
			return
		}
		switch protocol.Kind(frame.Type) {
		case protocol.KindUserJoined:
			if joined {
				continue
			}
			joined = true
			s.handleJoin(peer, room, state.sessionID, frame)
		case protocol.KindPing:
			if err := peer.send(protocol.KindPong, nil, "", s.hub.now()); err != nil {
				return
			}
		case protocol.KindDiceRoll, protocol.KindChatMessage, protocol.KindPlayerPositionUpdate:
			if !joined {
				continue
			}
			s.relay(room, peer, frame)
		case protocol.KindAddNPC:
			if joined {
				s.handleAddNPC(room, peer, frame)
			}
		case protocol.KindPerformAction:
			// Actions are resolved over REST; the hint only confirms delivery.
		default:
			s.logf("roomsim: unsupported frame type %q from %s", frame.Type, peer.userID)
		}
	}
}

func (s *Server) handleJoin(peer *wsPeer, room *encounterRoom, sessionID string, frame wsFrame) {
	var joinPayload protocol.UserJoinedPayload
	if len(frame.Data) > 0 {
		_ = json.Unmarshal(frame.Data, &joinPayload)
	}
	if name := strings.TrimSpace(joinPayload.DisplayName); name != "" && peer.name == "" {
		peer.name = name
	}

	enc, combat, health, users, others := room.join(peer, sessionID)
	initial := protocol.InitialStatePayload{
		Encounter:      enc,
		CombatState:    combat,
		Health:         health,
		ConnectedUsers: users,
	}
	if session, ok := s.hub.session(sessionID); ok {
		initial.Session = &session
	}
	now := s.hub.now()
	if err := peer.send(protocol.KindInitialState, initial, "", now); err != nil {
		s.logf("roomsim: send initial state to %s: %v", peer.userID, err)
		return
	}
	s.broadcast(others, protocol.KindUserJoined, protocol.UserJoinedPayload{
		UserID:      peer.userID,
		DisplayName: peer.name,
		SessionID:   sessionID,
		EncounterID: enc.ID,
		Timestamp:   now.UTC(),
	}, peer.userID)
}

// relay forwards a hint to everyone else in the room, stamped with the
// sender's id.
func (s *Server) relay(room *encounterRoom, from *wsPeer, frame wsFrame) {
	out := wsFrame{
		Type:      frame.Type,
		Data:      frame.Data,
		UserID:    from.userID,
		Timestamp: s.hub.now().UTC().Format(time.RFC3339Nano),
	}
	for _, peer := range room.peers() {
		if peer == from {
			continue
		}
		if err := peer.writeFrame(out); err != nil {
			s.logf("roomsim: relay %s to %s: %v", frame.Type, peer.userID, err)
		}
	}
}

func (s *Server) handleAddNPC(room *encounterRoom, from *wsPeer, frame wsFrame) {
	var payload protocol.AddNPCPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || strings.TrimSpace(payload.Name) == "" {
		s.logf("roomsim: ignored ADD_NPC from %s without a name", from.userID)
		return
	}
	npcID, err := s.newID()
	if err != nil {
		s.logf("roomsim: npc id: %v", err)
		return
	}
	npcID = "npc-" + npcID
	enc, changed, peers := room.addParticipant(npcID)
	if !changed {
		return
	}
	s.broadcast(peers, protocol.KindParticipantAdded, protocol.ParticipantAddedPayload{
		ParticipantID: npcID,
		Name:          strings.TrimSpace(payload.Name),
		Version:       enc.Version,
	}, from.userID)
}

func (s *Server) handleNotificationConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	userID, ok := conn.Request().Context().Value(notificationConnKey{}).(string)
	if !ok {
		return
	}
	peer := newWSPeer(json.NewEncoder(conn), userID, "")
	box := s.hub.inbox(userID)
	greeting := box.join(peer)
	defer box.leave(peer)
	if err := peer.send(protocol.KindNotificationsConnected, greeting, "", s.hub.now()); err != nil {
		return
	}

	reader := &frameReader{decoder: json.NewDecoder(conn)}
	for {
		frame, ok := reader.next(s.logf)
		if !ok {
			return
		}
		var ids protocol.NotificationIDPayload
		if len(frame.Data) > 0 {
			_ = json.Unmarshal(frame.Data, &ids)
		}
		switch protocol.Kind(frame.Type) {
		case protocol.KindPing:
			if err := peer.send(protocol.KindPong, nil, "", s.hub.now()); err != nil {
				return
			}
		case protocol.KindMarkAsRead:
			unread, found := box.markRead(ids.NotificationID)
			if found {
				s.broadcast(box.subscribers(), protocol.KindNotificationMarkedRead, protocol.NotificationIDPayload{NotificationID: ids.NotificationID, UnreadCount: &unread}, "")
			}
		case protocol.KindMarkAllRead:
			box.markAllRead()
			peers := box.subscribers()
			s.broadcast(peers, protocol.KindAllNotificationsMarkedRead, nil, "")
			s.broadcast(peers, protocol.KindUnreadCountUpdate, protocol.UnreadCountPayload{UnreadCount: 0}, "")
		case protocol.KindDeleteNotification:
			unread, found := box.remove(ids.NotificationID)
			if found {
				s.broadcast(box.subscribers(), protocol.KindNotificationDeleted, protocol.NotificationIDPayload{NotificationID: ids.NotificationID, UnreadCount: &unread}, "")
			}
		default:
			s.logf("roomsim: unsupported notification frame %q from %s", frame.Type, userID)
		}
	}
}

// broadcast writes one frame to each peer. A failed write is logged; the
// peer's read loop notices the broken connection and leaves.
func (s *Server) broadcast(peers []*wsPeer, kind protocol.Kind, data any, userID string) {
	if len(peers) == 0 {
		return
	}
	frame := newFrame(kind, data, userID, s.hub.now())
	for _, peer := range peers {
		if err := peer.writeFrame(frame); err != nil {
			s.logf("roomsim: broadcast %s to %s: %v", kind, peer.userID, err)
		}
	}
}
