package slackcmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type socketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type eventsAPIPayload struct {
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type slackEvent struct {
	Type    string `json:"type,omitempty"`
	Subtype string `json:"subtype,omitempty"`
	User    string `json:"user,omitempty"`
	Text    string `json:"text,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
}

// inboundMessage is a user message the bot should answer: a DM or an
// app mention, already filtered and with the bot's own mention stripped.
type inboundMessage struct {
	TeamID    string
	ChannelID string
	UserID    string
	Text      string
	EventID   string
	MessageTS string
	SentAt    time.Time
}

// interactionPayload describes the pieces of a legacy interactive_message
// action the notify-owner flow needs.
type interactionPayload struct {
	CallbackID  string
	ActionValue string
	ActionTS    string
	UserID      string
	ChannelID   string
}

type rawInteractionPayload struct {
	Type       string `json:"type,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
	ActionTS   string `json:"action_ts,omitempty"`
	Actions    []struct {
		Name  string `json:"name,omitempty"`
		Value string `json:"value,omitempty"`
	} `json:"actions,omitempty"`
	User struct {
		ID string `json:"id,omitempty"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id,omitempty"`
	} `json:"channel"`
}

// parseInboundMessage extracts a processable user message from an
// events_api envelope. Edited messages, bot messages, the bot's own
// messages and empty events are all skipped with ok=false.
func parseInboundMessage(envelope socketEnvelope, botUserID string) (inboundMessage, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return inboundMessage{}, false, nil
	}
	var payload eventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return inboundMessage{}, false, err
	}
	var event slackEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return inboundMessage{}, false, err
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType != "message" && eventType != "app_mention" {
		return inboundMessage{}, false, nil
	}
	if strings.TrimSpace(event.Subtype) != "" {
		return inboundMessage{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return inboundMessage{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return inboundMessage{}, false, nil
	}
	channelID := strings.TrimSpace(event.Channel)
	if channelID == "" {
		return inboundMessage{}, false, nil
	}
	text := stripBotMention(event.Text, botUserID)
	if text == "" {
		return inboundMessage{}, false, nil
	}

	sentAt := time.Now().UTC()
	if payload.EventTime > 0 {
		sentAt = time.Unix(payload.EventTime, 0).UTC()
	}
	return inboundMessage{
		TeamID:    strings.TrimSpace(payload.TeamID),
		ChannelID: channelID,
		UserID:    userID,
		Text:      text,
		EventID:   strings.TrimSpace(payload.EventID),
		MessageTS: strings.TrimSpace(event.TS),
		SentAt:    sentAt,
	}, true, nil
}

// parseInteraction extracts the first action of an interactive envelope.
func parseInteraction(envelope socketEnvelope) (interactionPayload, bool, error) {
	if strings.TrimSpace(envelope.Type) != "interactive" || len(envelope.Payload) == 0 {
		return interactionPayload{}, false, nil
	}
	var raw rawInteractionPayload
	if err := json.Unmarshal(envelope.Payload, &raw); err != nil {
		return interactionPayload{}, false, err
	}
	if strings.TrimSpace(raw.Type) != "interactive_message" {
		return interactionPayload{}, false, nil
	}
	if len(raw.Actions) == 0 {
		return interactionPayload{}, false, fmt.Errorf("interactive payload has no actions")
	}
	userID := strings.TrimSpace(raw.User.ID)
	channelID := strings.TrimSpace(raw.Channel.ID)
	if userID == "" || channelID == "" {
		return interactionPayload{}, false, fmt.Errorf("interactive payload missing user or channel")
	}
	return interactionPayload{
		CallbackID:  strings.TrimSpace(raw.CallbackID),
		ActionValue: raw.Actions[0].Value,
		ActionTS:    strings.TrimSpace(raw.ActionTS),
		UserID:      userID,
		ChannelID:   channelID,
	}, true, nil
}

// stripBotMention removes the bot's own mention token so channel
// requests classify the same as DMs.
func stripBotMention(text, botUserID string) string {
	botUserID = strings.TrimSpace(botUserID)
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	}
	return strings.TrimSpace(text)
}
