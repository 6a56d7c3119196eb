package slackcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nduati/equipbot/internal/directory"
	"github.com/nduati/equipbot/internal/intent"
	"github.com/nduati/equipbot/internal/respond"
	"github.com/nduati/equipbot/internal/slackapi"
)

const notifyOwnerCallbackID = "notify_owner"

// Poster is the Slack surface the handler needs; *slackapi.Client
// implements it.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text string, attachments []slackapi.Attachment) error
	PostEphemeral(ctx context.Context, channelID, userID, text string, attachments []slackapi.Attachment) error
	OpenConversation(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	API         Poster
	Directory   *directory.Directory
	Builder     *respond.Builder
	Logger      *slog.Logger
	PacingDelay time.Duration
}

// notifyActionValue is the JSON carried in the notify button. The full
// record rides along so the interaction needs no directory access.
type notifyActionValue struct {
	Record   directory.EquipmentRecord `json:"record"`
	TypeName string                    `json:"type_name"`
}

// HandleMessage classifies a user message, runs the directory lookup and
// posts the reply. Search replies are preceded by a short loading line
// so the answer does not arrive before the user finished reading their
// own message.
func (h *Handler) HandleMessage(ctx context.Context, msg inboundMessage) error {
	if h == nil || h.API == nil || h.Directory == nil || h.Builder == nil {
		return fmt.Errorf("slack handler is not initialized")
	}
	it := intent.Classify(msg.Text)
	lookup := h.lookup(it, msg.UserID)
	resp := h.Builder.Build(it, lookup, msg.UserID)

	if resp.Kind == respond.KindSearch {
		if err := h.API.PostMessage(ctx, msg.ChannelID, respond.Fortune(), nil); err != nil {
			return fmt.Errorf("post loading message: %w", err)
		}
		if err := slackapi.SleepWithContext(ctx, h.PacingDelay); err != nil {
			return err
		}
	}
	if err := h.API.PostMessage(ctx, msg.ChannelID, resp.Text, attachmentsFromCards(resp.Cards)); err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	if h.Logger != nil {
		h.Logger.Info("slack_message_answered",
			"channel_id", msg.ChannelID,
			"user_id", msg.UserID,
			"intent", string(it.Kind),
			"results", len(lookup.Records),
		)
	}
	return nil
}

// HandleInteraction processes a notify-owner button press: DM the
// registered owner and acknowledge the acting user in place.
func (h *Handler) HandleInteraction(ctx context.Context, in interactionPayload) error {
	if h == nil || h.API == nil {
		return fmt.Errorf("slack handler is not initialized")
	}
	if in.CallbackID != notifyOwnerCallbackID {
		return fmt.Errorf("unsupported callback_id %q", in.CallbackID)
	}
	var value notifyActionValue
	if err := json.Unmarshal([]byte(in.ActionValue), &value); err != nil {
		return fmt.Errorf("decode notify action value: %w", err)
	}
	notification, err := respond.NotifyOwner(value.Record, value.TypeName, in.UserID)
	if err != nil {
		return err
	}
	if notification.TargetUserID != "" {
		dmChannelID, err := h.API.OpenConversation(ctx, notification.TargetUserID)
		if err != nil {
			return fmt.Errorf("open dm with owner: %w", err)
		}
		if err := h.API.PostMessage(ctx, dmChannelID, notification.Text, nil); err != nil {
			return fmt.Errorf("notify owner: %w", err)
		}
		if h.Logger != nil {
			h.Logger.Info("slack_owner_notified",
				"owner_slack_id", notification.TargetUserID,
				"equipment_id", value.Record.EquipmentID,
				"acting_user_id", in.UserID,
			)
		}
	}
	if notification.Ack != "" {
		if err := h.API.PostEphemeral(ctx, in.ChannelID, in.UserID, notification.Ack, nil); err != nil {
			return fmt.Errorf("post ack: %w", err)
		}
	}
	return nil
}

func (h *Handler) lookup(it intent.Intent, requestingUserID string) respond.LookupResult {
	switch it.Kind {
	case intent.KindSearchByID:
		records, matchedType, _ := h.Directory.FindByID(it.EquipmentID, directory.DefaultSearchOrder)
		return respond.LookupResult{Records: records, Type: matchedType}
	case intent.KindSearchByOwner:
		ownerID := it.Owner.Resolve(requestingUserID)
		result := respond.LookupResult{Type: it.EquipmentType, OwnerID: ownerID}
		if ownerID != "" {
			result.Records = h.Directory.FindByOwner(ownerID, it.EquipmentType)
		}
		return result
	default:
		return respond.LookupResult{}
	}
}

func attachmentsFromCards(cards []respond.Card) []slackapi.Attachment {
	if len(cards) == 0 {
		return nil
	}
	out := make([]slackapi.Attachment, 0, len(cards))
	for _, card := range cards {
		attachment := slackapi.Attachment{
			Title:    card.Title,
			Text:     card.Text,
			Fallback: card.Fallback,
			Color:    card.Color,
		}
		for _, field := range card.Fields {
			attachment.Fields = append(attachment.Fields, slackapi.AttachmentField{
				Title: field.Label,
				Value: field.Value,
				Short: field.Short,
			})
		}
		if card.Notify != nil {
			raw, err := json.Marshal(notifyActionValue{
				Record:   card.Notify.Record,
				TypeName: card.Notify.TypeName,
			})
			if err == nil {
				attachment.CallbackID = notifyOwnerCallbackID
				attachment.Actions = []slackapi.AttachmentAction{{
					Name:  "notify",
					Text:  "Notify owner",
					Type:  "button",
					Value: string(raw),
					Confirm: &slackapi.ActionConfirm{
						Title:       "Notify the owner?",
						Text:        fmt.Sprintf("I'll send %s a direct message that you found their %s.", card.Notify.Record.OwnerName, card.Notify.TypeName),
						OkText:      "Yes",
						DismissText: "No",
					},
				}}
			}
		}
		out = append(out, attachment)
	}
	return out
}

func toAllowlist(items []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range items {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
