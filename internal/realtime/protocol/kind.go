// Package protocol defines the wire vocabulary shared by the encounter and
// notification channels: message kinds, the per-channel kind tables, the
// envelope codec, and payload shapes.
//
// Inbound tags resolve through a fixed Table. A tag the table does not know
// resolves to KindUnknown (keeping the raw tag) so protocol drift stays
// visible instead of being dropped.
package protocol

// Kind identifies a message or local event type.
type Kind string

// Local kinds never appear on the wire.
const (
	// KindUnknown is the catch-all for inbound tags the channel table lacks.
	KindUnknown Kind = "UNKNOWN"
	// KindConnectionStatus reports connection manager status transitions.
	KindConnectionStatus Kind = "CONNECTION_STATUS"
)

// Encounter channel kinds.
const (
	KindInitialState         Kind = "INITIAL_STATE"
	KindActionPerformed      Kind = "ACTION_PERFORMED"
	KindTurnChanged          Kind = "TURN_CHANGED"
	KindCombatStarted        Kind = "COMBAT_STARTED"
	KindCombatEnded          Kind = "COMBAT_ENDED"
	KindParticipantAdded     Kind = "PARTICIPANT_ADDED"
	KindHealthUpdate         Kind = "HEALTH_UPDATE"
	KindUserJoined           Kind = "USER_JOINED"
	KindUserLeft             Kind = "USER_LEFT"
	KindPerformAction        Kind = "PERFORM_ACTION"
	KindDiceRoll             Kind = "DICE_ROLL"
	KindAddNPC               Kind = "ADD_NPC"
	KindPlayerPositionUpdate Kind = "PLAYER_POSITION_UPDATE"
	KindChatMessage          Kind = "CHAT_MESSAGE"
)

// Heartbeat kinds shared by both channels.
const (
	KindPing Kind = "PING"
	KindPong Kind = "PONG"
)

// Notification channel kinds.
const (
	KindNotificationsConnected     Kind = "NOTIFICATIONS_CONNECTED"
	KindNewNotification            Kind = "NEW_NOTIFICATION"
	KindUnreadCountUpdate          Kind = "UNREAD_COUNT_UPDATE"
	KindNotificationMarkedRead     Kind = "NOTIFICATION_MARKED_READ"
	KindAllNotificationsMarkedRead Kind = "ALL_NOTIFICATIONS_MARKED_READ"
	KindNotificationDeleted        Kind = "NOTIFICATION_DELETED"
	KindSystemNotification         Kind = "SYSTEM_NOTIFICATION"
	KindMarkAsRead                 Kind = "MARK_AS_READ"
	KindMarkAllRead                Kind = "MARK_ALL_READ"
	KindDeleteNotification         Kind = "DELETE_NOTIFICATION"
)

// Table is the fixed kind vocabulary of one channel.
type Table struct {
	name     string
	inbound  map[string]Kind
	outbound map[Kind]struct{}
}

func newTable(name string, inbound []Kind, outbound []Kind) Table {
	t := Table{
		name:     name,
		inbound:  make(map[string]Kind, len(inbound)),
		outbound: make(map[Kind]struct{}, len(outbound)),
	}
	for _, kind := range inbound {
		t.inbound[string(kind)] = kind
	}
	for _, kind := range outbound {
		t.outbound[kind] = struct{}{}
	}
	return t
}

// EncounterTable is the encounter channel vocabulary. Position, dice, and
// chat hints are relayed back to the room, so they are inbound as well.
var EncounterTable = newTable("encounter",
	[]Kind{
		KindInitialState,
		KindActionPerformed,
		KindTurnChanged,
		KindCombatStarted,
		KindCombatEnded,
		KindParticipantAdded,
		KindHealthUpdate,
		KindUserJoined,
		KindUserLeft,
		KindPong,
		KindPlayerPositionUpdate,
		KindDiceRoll,
		KindChatMessage,
	},
	[]Kind{
		KindUserJoined,
		KindPerformAction,
		KindDiceRoll,
		KindAddNPC,
		KindPlayerPositionUpdate,
		KindChatMessage,
		KindPing,
	},
)

// NotificationTable is the notification channel vocabulary.
var NotificationTable = newTable("notifications",
	[]Kind{
		KindNotificationsConnected,
		KindNewNotification,
		KindUnreadCountUpdate,
		KindNotificationMarkedRead,
		KindAllNotificationsMarkedRead,
		KindNotificationDeleted,
		KindSystemNotification,
		KindPong,
	},
	[]Kind{
		KindPing,
		KindMarkAsRead,
		KindMarkAllRead,
		KindDeleteNotification,
	},
)

// Name returns the channel name for logs.
func (t Table) Name() string {
	return t.name
}

// Inbound resolves a wire tag. Unknown tags return KindUnknown and false.
func (t Table) Inbound(tag string) (Kind, bool) {
	kind, ok := t.inbound[tag]
	if !ok {
		return KindUnknown, false
	}
	return kind, true
}

// AllowsOutbound reports whether kind may be sent on this channel.
func (t Table) AllowsOutbound(kind Kind) bool {
	_, ok := t.outbound[kind]
	return ok
}

// InboundKinds returns the inbound kinds in no particular order.
func (t Table) InboundKinds() []Kind {
	kinds := make([]Kind, 0, len(t.inbound))
	for _, kind := range t.inbound {
		kinds = append(kinds, kind)
	}
	return kinds
}
