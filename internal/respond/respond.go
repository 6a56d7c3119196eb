// Package respond turns classification and lookup results into
// transport-agnostic response objects. The slack command layer renders
// these into API payloads; nothing here knows about wire formats.
package respond

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/nduati/equipbot/internal/directory"
	"github.com/nduati/equipbot/internal/intent"
)

// Kind drives transport behavior: the delivery layer keeps an explicit
// dispatch table on it (search responses get a loading line and a pacing
// delay, everything else posts directly).
type Kind string

const (
	KindGreeting  Kind = "greeting"
	KindSearch    Kind = "search"
	KindLove      Kind = "love"
	KindGratitude Kind = "gratitude"
	KindFortune   Kind = "fortune"
	KindHelp      Kind = "help"
	KindDefault   Kind = "default"
)

type Field struct {
	Label string
	Value string
	Short bool
}

// NotifyOwnerAction carries the full equipment record so a later,
// decoupled interaction can resolve which equipment the notification is
// about without a server-side lookup.
type NotifyOwnerAction struct {
	Record   directory.EquipmentRecord
	TypeName string
}

type Card struct {
	Title    string
	Text     string
	Fallback string
	Color    string
	Fields   []Field
	Notify   *NotifyOwnerAction
}

type Response struct {
	Text  string
	Kind  Kind
	Cards []Card
}

// LookupResult is the directory query outcome handed to the builder. Type
// is the store that matched (by-id search) or was requested (by-owner
// search); OwnerID is the resolved owner for by-owner searches.
type LookupResult struct {
	Records []directory.EquipmentRecord
	Type    directory.Type
	OwnerID string
}

// fortunePool feeds both the fortune intent and the loading line posted
// before search answers.
var fortunePool = []string{
	"We're testing your patience.",
	"A few bits tried to escape, we're catching them...",
	"It's still faster than slacking OPs :stuck_out_tongue_closed_eyes:",
	"Loading humorous message ... Please Wait",
	"Firing up the transmogrification device...",
	"Time is an illusion. Loading time doubly so.",
	"Slacking OPs for the information, this could take a while...",
	"Loading completed. Press F13 to continue.",
	"Oh boy, more work! :face_with_rolling_eyes:...",
}

// Builder builds responses. AdminUserID, when set, adds a feedback card to
// the help response.
type Builder struct {
	AdminUserID string
}

// Build maps an intent and its lookup result to a response. It never
// fails; misses become informational messages.
func (b *Builder) Build(it intent.Intent, lookup LookupResult, requestingUserID string) Response {
	switch it.Kind {
	case intent.KindGreeting:
		return Response{
			Kind: KindGreeting,
			Text: fmt.Sprintf("Hello <@%s>! :tada:. I'm here to help you find equipment owner information. Send `help` to learn more.", requestingUserID),
		}
	case intent.KindSearchByID:
		if len(lookup.Records) == 0 {
			return Response{
				Kind: KindSearch,
				Text: "Sorry. I did not find any equipment by that id :slightly_frowning_face:",
			}
		}
		return Response{
			Kind:  KindSearch,
			Cards: b.equipmentCards(lookup.Records, lookup.Type, requestingUserID),
		}
	case intent.KindSearchByOwner:
		if len(lookup.Records) == 0 {
			ownerRef := "<@" + lookup.OwnerID + ">"
			if lookup.OwnerID == "" || lookup.OwnerID == requestingUserID {
				ownerRef = "you"
			}
			return Response{
				Kind: KindSearch,
				Text: fmt.Sprintf("Sorry. I did not find any %s belonging to %s :slightly_frowning_face:", lookup.Type, ownerRef),
			}
		}
		return Response{
			Kind:  KindSearch,
			Cards: b.equipmentCards(lookup.Records, lookup.Type, requestingUserID),
		}
	case intent.KindLove:
		return Response{Kind: KindLove, Text: "OK, what do you need?"}
	case intent.KindGratitude:
		return Response{Kind: KindGratitude, Text: "No problemo"}
	case intent.KindFortune:
		return Response{Kind: KindFortune, Text: Fortune()}
	case intent.KindHelp:
		return b.helpResponse()
	default:
		return Response{
			Kind: KindDefault,
			Text: "Sorry but I didn't understand you. Try requesting `help`.",
		}
	}
}

// Fortune returns a random line from the static pool.
func Fortune() string {
	return fortunePool[rand.Intn(len(fortunePool))]
}

func (b *Builder) equipmentCards(records []directory.EquipmentRecord, t directory.Type, requestingUserID string) []Card {
	cards := make([]Card, 0, len(records))
	for _, record := range records {
		cards = append(cards, b.equipmentCard(record, t, requestingUserID))
	}
	return cards
}

func (b *Builder) equipmentCard(record directory.EquipmentRecord, t directory.Type, requestingUserID string) Card {
	singular := t.Singular()
	card := Card{
		Title:    fmt.Sprintf("%s's %s", record.OwnerName, singular),
		Fallback: fmt.Sprintf("Equipment ID - %s | Owner - %s", record.EquipmentID, record.OwnerName),
		Color:    randomHexColor(),
		Fields: []Field{
			{Label: "Equipment ID", Value: record.EquipmentID, Short: true},
			{Label: "Owner", Value: "<@" + record.OwnerSlackID + ">", Short: true},
		},
	}
	// No self-notification: the button only appears on other people's
	// equipment.
	if record.OwnerSlackID != "" && record.OwnerSlackID != requestingUserID {
		card.Notify = &NotifyOwnerAction{Record: record, TypeName: singular}
	}
	return card
}

func (b *Builder) helpResponse() Response {
	cards := []Card{
		{
			Title: "Searching for an item's owner",
			Text: "You can search for an item's owner by sending _find <item_id>_.\n\n eg. `find AND/DONGLE/123`\n" +
				"Note: For channel requests, you have to mention me in the message",
		},
		{
			Title: "Check the ownership information of an item",
			Text: "Check ownership information for an item by sending \n_find < @mention|my > <mac|charger|dongle|thunderbolt>_ \n\n eg. `find my dongle` or `find @johndoe thunderbolt`\n" +
				"Note: For channel requests, you have to mention me in the message",
		},
	}
	if strings.TrimSpace(b.AdminUserID) != "" {
		cards = append(cards, Card{
			Title: "Send feedback",
			Text:  fmt.Sprintf("If you have any feedback you'd like to share, drop a message to <@%s>", b.AdminUserID),
		})
	}
	return Response{
		Kind: KindHelp,
		Text: "Hello :wave:. I can help you find owner information for equipment like macbooks, dongles, thunderbolts and chargers. " +
			"To get started, try sending `find TB/0051` or `find my dongle` if you own one. I work both via a channel mention or dm :wink:.",
		Cards: cards,
	}
}

// randomHexColor picks the cosmetic card color. It is deliberately not
// deterministic; nothing may depend on its value.
func randomHexColor() string {
	return fmt.Sprintf("#%02X%02X%02X", rand.Intn(256), rand.Intn(256), rand.Intn(256))
}
