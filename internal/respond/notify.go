package respond

import (
	"fmt"
	"strings"

	"github.com/nduati/equipbot/internal/directory"
)

// Notification is the outcome of a notify-owner interaction: who to DM,
// what to tell them, and a human-readable ack for the acting user. When
// TargetUserID is empty there is nothing to deliver and Ack explains why.
type Notification struct {
	TargetUserID string
	Text         string
	Ack          string
}

// NotifyOwner produces the owner notification for an equipment record a
// user claims to have found. The record arrives from the interaction
// payload (serialized into the card's action), not from a directory lookup.
func NotifyOwner(record directory.EquipmentRecord, typeName, actingUserID string) (Notification, error) {
	if strings.TrimSpace(record.EquipmentID) == "" {
		return Notification{}, fmt.Errorf("notify owner: record has no equipment_id")
	}
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		typeName = "equipment"
	}
	owner := strings.TrimSpace(record.OwnerSlackID)
	if owner == "" {
		return Notification{
			Ack: fmt.Sprintf("This %s has no registered Slack owner, so I can't notify anyone.", typeName),
		}, nil
	}
	if owner == strings.TrimSpace(actingUserID) {
		return Notification{
			Ack: fmt.Sprintf("That's your own %s :wink:. No notification sent.", typeName),
		}, nil
	}
	return Notification{
		TargetUserID: owner,
		Text: fmt.Sprintf("Hi <@%s>! :wave: <@%s> says they found your %s (`%s`). Reach out to them to get it back.",
			owner, actingUserID, typeName, record.EquipmentID),
		Ack: fmt.Sprintf("Done. I let %s know you found their %s.", record.OwnerName, typeName),
	}, nil
}
