package protocol

import (
	"time"

	"github.com/louisbranch/tableroom/internal/encounter"
)

// InitialStatePayload is the full room snapshot sent right after join.
type InitialStatePayload struct {
	Session        *encounter.Session        `json:"session,omitempty"`
	Encounter      encounter.Encounter       `json:"encounter"`
	CombatState    *encounter.CombatState    `json:"combatState,omitempty"`
	Health         []encounter.Health        `json:"health,omitempty"`
	ConnectedUsers []encounter.ConnectedUser `json:"connectedUsers,omitempty"`
}

// ActionPerformedPayload reports a resolved action and its effects.
type ActionPerformedPayload struct {
	Action      encounter.PerformedAction `json:"action"`
	CombatState *encounter.CombatState    `json:"combatState,omitempty"`
	Health      []encounter.Health        `json:"health,omitempty"`
}

// TurnChangedPayload moves the turn pointer. When CombatState is present it
// supersedes the scalar fields.
type TurnChangedPayload struct {
	CurrentTurnIndex int                    `json:"currentTurnIndex"`
	CurrentRound     int                    `json:"currentRound"`
	Version          int64                  `json:"version,omitempty"`
	CombatState      *encounter.CombatState `json:"combatState,omitempty"`
}

// CombatStartedPayload carries the opening combat state.
type CombatStartedPayload struct {
	CombatState *encounter.CombatState `json:"combatState"`
}

// CombatEndedPayload closes combat for an encounter.
type CombatEndedPayload struct {
	EncounterID string `json:"encounterId,omitempty"`
	Version     int64  `json:"version,omitempty"`
}

// ParticipantAddedPayload adds a character or NPC to the encounter.
type ParticipantAddedPayload struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name,omitempty"`
	Version       int64  `json:"version,omitempty"`
}

// HealthUpdatePayload reports a participant's hit points.
type HealthUpdatePayload = encounter.Health

// UserJoinedPayload announces a human joining the room. The client sends it
// on open and the server broadcasts it to the others.
type UserJoinedPayload struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	EncounterID string    `json:"encounterId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserLeftPayload announces a human leaving the room.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// PositionPayload is a board position hint.
type PositionPayload struct {
	UserID        string  `json:"userId,omitempty"`
	ParticipantID string  `json:"participantId,omitempty"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
}

// DiceRollPayload shares a roll the caller already made.
type DiceRollPayload struct {
	Dice    string `json:"dice"`
	Results []int  `json:"results,omitempty"`
	Total   int    `json:"total"`
	Purpose string `json:"purpose,omitempty"`
}

// AddNPCPayload asks the room to place an NPC.
type AddNPCPayload struct {
	Name       string              `json:"name"`
	TemplateID string              `json:"templateId,omitempty"`
	Position   *encounter.Position `json:"position,omitempty"`
}

// ChatMessagePayload is a room chat line.
type ChatMessagePayload struct {
	Message string `json:"message"`
}

// ConnectionStatusPayload is the data of KindConnectionStatus.
type ConnectionStatusPayload struct {
	Status  string `json:"status"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Notification is one in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type,omitempty"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// NotificationsConnectedPayload greets the notification channel.
type NotificationsConnectedPayload struct {
	UnreadCount   int            `json:"unreadCount"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// NewNotificationPayload delivers one notification.
type NewNotificationPayload struct {
	Notification Notification `json:"notification"`
	UnreadCount  *int         `json:"unreadCount,omitempty"`
}

// UnreadCountPayload sets the unread badge.
type UnreadCountPayload struct {
	UnreadCount int `json:"unreadCount"`
}

// NotificationIDPayload names a single notification.
type NotificationIDPayload struct {
	NotificationID string `json:"notificationId"`
	UnreadCount    *int   `json:"unreadCount,omitempty"`
}

// SystemNotificationPayload is a broadcast not stored per user.
type SystemNotificationPayload struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}
