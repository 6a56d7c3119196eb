// Package slackcmd runs the equipment bot against Slack using Socket
// Mode. Inbound envelopes are acked on the socket and handed to the
// in-process bus; bus workers run the lookup and post the reply.
package slackcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nduati/equipbot/internal/bus"
	"github.com/nduati/equipbot/internal/configutil"
	"github.com/nduati/equipbot/internal/directory"
	"github.com/nduati/equipbot/internal/logutil"
	"github.com/nduati/equipbot/internal/respond"
	"github.com/nduati/equipbot/internal/slackapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewCommand() *cobra.Command {
	return newSlackCmd()
}

func newSlackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Run the equipment bot with Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or EQUIPBOT_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or EQUIPBOT_SLACK_APP_TOKEN)")
			}
			directoryPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "directory", "directory.path"))
			if directoryPath == "" {
				return fmt.Errorf("missing directory.path (set via --directory or EQUIPBOT_DIRECTORY_PATH)")
			}

			logger, err := logutil.New(
				configutil.FlagOrViperString(cmd, "log-level", "log.level"),
				configutil.FlagOrViperString(cmd, "log-format", "log.format"),
			)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			dir, err := directory.Load(directoryPath)
			if err != nil {
				return fmt.Errorf("load directory: %w", err)
			}

			allowedTeams := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-team-id", "slack.allowed_team_ids"))
			allowedChannels := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			pacingDelay := configutil.FlagOrViperDuration(cmd, "pacing-delay", "slack.pacing_delay")
			if pacingDelay < 0 {
				pacingDelay = 0
			}
			if !cmd.Flags().Changed("pacing-delay") && !viper.IsSet("slack.pacing_delay") {
				pacingDelay = 500 * time.Millisecond
			}

			httpClient := &http.Client{Timeout: 30 * time.Second}
			api := slackapi.New(httpClient, "https://slack.com/api", botToken, appToken)
			auth, err := api.AuthTest(cmd.Context())
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			botUserID := strings.TrimSpace(auth.UserID)
			if botUserID == "" {
				return fmt.Errorf("slack auth.test returned empty user_id")
			}
			if len(allowedTeams) == 0 && strings.TrimSpace(auth.TeamID) != "" {
				allowedTeams[strings.TrimSpace(auth.TeamID)] = true
			}

			handler := &Handler{
				API:       api,
				Directory: dir,
				Builder: &respond.Builder{
					AdminUserID: strings.TrimSpace(configutil.FlagOrViperString(cmd, "admin-user-id", "slack.admin_user_id")),
				},
				Logger:      logger,
				PacingDelay: pacingDelay,
			}

			inprocBus, err := bus.Start(bus.Options{
				MaxInFlight: viper.GetInt("bus.max_inflight"),
				Workers:     viper.GetInt("bus.workers"),
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			defer inprocBus.Close()

			if err := inprocBus.Subscribe(bus.TopicChatMessage, func(ctx context.Context, task bus.Task) error {
				msg, ok := task.Payload.(inboundMessage)
				if !ok {
					return fmt.Errorf("unexpected chat task payload %T", task.Payload)
				}
				return handler.HandleMessage(ctx, msg)
			}); err != nil {
				return err
			}
			if err := inprocBus.Subscribe(bus.TopicInteraction, func(ctx context.Context, task bus.Task) error {
				in, ok := task.Payload.(interactionPayload)
				if !ok {
					return fmt.Errorf("unexpected interaction task payload %T", task.Payload)
				}
				// Notifications must not be redelivered; a retried DM
				// would reach the owner twice.
				if err := handler.HandleInteraction(ctx, in); err != nil {
					logger.Warn("slack_interaction_error", "channel_id", in.ChannelID, "user_id", in.UserID, "error", err.Error())
				}
				return nil
			}); err != nil {
				return err
			}

			logger.Info("slack_start",
				"bot_user_id", botUserID,
				"directory_path", directoryPath,
				"directory_records", dir.Len(),
				"allowed_team_ids", len(allowedTeams),
				"allowed_channel_ids", len(allowedChannels),
				"pacing_delay", pacingDelay.String(),
			)

			onEnvelope := func(envelope socketEnvelope) error {
				if msg, ok, err := parseInboundMessage(envelope, botUserID); err != nil {
					logger.Warn("slack_event_parse_error", "error", err.Error())
					return nil
				} else if ok {
					if msg.TeamID != "" && len(allowedTeams) > 0 && !allowedTeams[msg.TeamID] {
						return nil
					}
					if len(allowedChannels) > 0 && !allowedChannels[msg.ChannelID] {
						return nil
					}
					publishTask(logger, inprocBus, bus.Task{
						ID:             "task_" + uuid.NewString(),
						Topic:          bus.TopicChatMessage,
						IdempotencyKey: messageIdempotencyKey(msg),
						Payload:        msg,
						EnqueuedAt:     time.Now().UTC(),
					})
					return nil
				}
				if in, ok, err := parseInteraction(envelope); err != nil {
					logger.Warn("slack_interaction_parse_error", "error", err.Error())
					return nil
				} else if ok {
					if len(allowedChannels) > 0 && !allowedChannels[in.ChannelID] {
						return nil
					}
					publishTask(logger, inprocBus, bus.Task{
						ID:             "task_" + uuid.NewString(),
						Topic:          bus.TopicInteraction,
						IdempotencyKey: interactionIdempotencyKey(in),
						Payload:        in,
						EnqueuedAt:     time.Now().UTC(),
					})
				}
				return nil
			}

			for {
				if cmd.Context().Err() != nil {
					logger.Info("slack_stop", "reason", "context_canceled")
					return nil
				}
				conn, err := api.ConnectSocket(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						logger.Info("slack_stop", "reason", "context_canceled")
						return nil
					}
					logger.Warn("slack_socket_connect_error", "error", err.Error())
					if err := slackapi.SleepWithContext(cmd.Context(), 2*time.Second); err != nil {
						return nil
					}
					continue
				}
				logger.Info("slack_socket_connected")
				readErr := consumeSocket(cmd.Context(), conn, onEnvelope)
				_ = conn.Close()
				if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
					logger.Warn("slack_socket_read_error", "error", readErr.Error())
				}
			}
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().StringArray("slack-allowed-team-id", nil, "Allowed Slack team id(s). If empty, defaults to the bot's home team.")
	cmd.Flags().StringArray("slack-allowed-channel-id", nil, "Allowed Slack channel id(s). If empty, allows all channels in allowed teams.")
	cmd.Flags().String("admin-user-id", "", "Slack user id shown as the feedback contact in help.")
	cmd.Flags().Duration("pacing-delay", 500*time.Millisecond, "Delay between the loading line and a search answer.")

	return cmd
}

func publishTask(logger *slog.Logger, inprocBus *bus.Inproc, task bus.Task) {
	accepted, err := inprocBus.Publish(context.Background(), task)
	if err != nil {
		logger.Warn("slack_bus_publish_error", "topic", string(task.Topic), "error", err.Error())
		return
	}
	if !accepted {
		logger.Debug("slack_bus_inbound_deduped", "topic", string(task.Topic), "idempotency_key", task.IdempotencyKey)
	}
}

func messageIdempotencyKey(msg inboundMessage) string {
	if msg.EventID != "" {
		return "slack:event:" + msg.EventID
	}
	return "slack:message:" + msg.ChannelID + ":" + msg.MessageTS
}

func interactionIdempotencyKey(in interactionPayload) string {
	return "slack:interaction:" + in.ChannelID + ":" + in.UserID + ":" + in.ActionTS
}

func consumeSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope socketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope socketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}
