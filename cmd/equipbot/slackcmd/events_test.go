package slackcmd

import (
	"encoding/json"
	"testing"
)

func messageEnvelope(t *testing.T, event map[string]any) socketEnvelope {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"team_id":    "T1",
		"event_id":   "Ev1",
		"event_time": 1700000000,
		"event":      event,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return socketEnvelope{Type: "events_api", Payload: payload}
}

func TestParseInboundMessage(t *testing.T) {
	t.Parallel()

	msg, ok, err := parseInboundMessage(messageEnvelope(t, map[string]any{
		"type":    "app_mention",
		"user":    "UALICE",
		"text":    "<@UBOT> find TB/0051",
		"channel": "C1",
		"ts":      "1.000",
	}), "UBOT")
	if err != nil {
		t.Fatalf("parseInboundMessage: %v", err)
	}
	if !ok {
		t.Fatal("expected event to be accepted")
	}
	if msg.Text != "find TB/0051" {
		t.Fatalf("expected bot mention stripped, got %q", msg.Text)
	}
	if msg.UserID != "UALICE" || msg.ChannelID != "C1" || msg.EventID != "Ev1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestParseInboundMessageSkips(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		event map[string]any
	}{
		{"subtype", map[string]any{"type": "message", "subtype": "message_changed", "user": "UALICE", "text": "hi", "channel": "C1", "ts": "1"}},
		{"bot_message", map[string]any{"type": "message", "bot_id": "B1", "user": "UALICE", "text": "hi", "channel": "C1", "ts": "1"}},
		{"self_message", map[string]any{"type": "message", "user": "UBOT", "text": "hi", "channel": "C1", "ts": "1"}},
		{"empty_user", map[string]any{"type": "message", "text": "hi", "channel": "C1", "ts": "1"}},
		{"empty_channel", map[string]any{"type": "message", "user": "UALICE", "text": "hi", "ts": "1"}},
		{"mention_only", map[string]any{"type": "app_mention", "user": "UALICE", "text": "<@UBOT>", "channel": "C1", "ts": "1"}},
		{"reaction", map[string]any{"type": "reaction_added", "user": "UALICE", "channel": "C1"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ok, err := parseInboundMessage(messageEnvelope(t, tc.event), "UBOT")
			if err != nil {
				t.Fatalf("parseInboundMessage: %v", err)
			}
			if ok {
				t.Fatal("expected event to be skipped")
			}
		})
	}
}

func TestParseInboundMessageIgnoresOtherEnvelopes(t *testing.T) {
	t.Parallel()

	_, ok, err := parseInboundMessage(socketEnvelope{Type: "hello"}, "UBOT")
	if err != nil {
		t.Fatalf("parseInboundMessage: %v", err)
	}
	if ok {
		t.Fatal("expected hello envelope to be skipped")
	}
}

func TestParseInteraction(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]any{
		"type":        "interactive_message",
		"callback_id": "notify_owner",
		"action_ts":   "2.000",
		"actions":     []map[string]any{{"name": "notify", "value": `{"record":{"equipment_id":"TB/0051"}}`}},
		"user":        map[string]string{"id": "UALICE"},
		"channel":     map[string]string{"id": "C1"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	in, ok, err := parseInteraction(socketEnvelope{Type: "interactive", Payload: payload})
	if err != nil {
		t.Fatalf("parseInteraction: %v", err)
	}
	if !ok {
		t.Fatal("expected interaction to be accepted")
	}
	if in.CallbackID != "notify_owner" || in.UserID != "UALICE" || in.ChannelID != "C1" || in.ActionTS != "2.000" {
		t.Fatalf("unexpected interaction %+v", in)
	}
}

func TestParseInteractionMissingActions(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]any{
		"type":    "interactive_message",
		"user":    map[string]string{"id": "UALICE"},
		"channel": map[string]string{"id": "C1"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if _, _, err := parseInteraction(socketEnvelope{Type: "interactive", Payload: payload}); err == nil {
		t.Fatal("expected error for missing actions")
	}
}

func TestStripBotMention(t *testing.T) {
	t.Parallel()

	if got := stripBotMention("  <@UBOT> find my dongle ", "UBOT"); got != "find my dongle" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := stripBotMention("find my dongle", ""); got != "find my dongle" {
		t.Fatalf("unexpected text %q", got)
	}
}
