package server

import (
	"time"

	"github.com/louisbranch/tableroom/internal/encounter"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// Demo identifiers loaded by Config.Seed.
const (
	DemoCampaignID        = "C1"
	DemoSessionID         = "S1"
	DemoCombatEncounterID = "E42"
	DemoSocialEncounterID = "E43"
	DemoUserID            = "U7"
)

func seedDemo(hub *roomHub) {
	now := hub.now().UTC()
	hub.putSession(encounter.Session{
		ID:             DemoSessionID,
		CampaignID:     DemoCampaignID,
		SequenceNumber: 3,
		Title:          "The Sunken Vault",
		ScheduledAt:    now.Truncate(time.Hour),
	})

	ambush := hub.putEncounter(encounter.Encounter{
		ID:             DemoCombatEncounterID,
		SessionID:      DemoSessionID,
		Name:           "Goblin Ambush",
		Type:           encounter.TypeCombat,
		ParticipantIDs: []string{"pc-ash", "pc-bree", "gob-1", "gob-2"},
	})
	for _, h := range []encounter.Health{
		{ParticipantID: "pc-ash", Current: 24, Max: 24},
		{ParticipantID: "pc-bree", Current: 18, Max: 18},
		{ParticipantID: "gob-1", Current: 7, Max: 7},
		{ParticipantID: "gob-2", Current: 7, Max: 7},
	} {
		ambush.setHealth(h)
	}

	hub.putEncounter(encounter.Encounter{
		ID:             DemoSocialEncounterID,
		SessionID:      DemoSessionID,
		Name:           "Tavern Parley",
		Type:           encounter.TypeSocial,
		ParticipantIDs: []string{"pc-ash", "pc-bree"},
	})

	box := hub.inbox(DemoUserID)
	box.push(protocol.Notification{ID: "n1", Type: "SESSION", Title: "Session tonight", Message: "Session 3 starts at 19:00", CreatedAt: now.Add(-time.Hour)})
	box.push(protocol.Notification{ID: "n2", Type: "TURN", Title: "Your turn", Message: "Ash is up in Goblin Ambush", CreatedAt: now})
}
