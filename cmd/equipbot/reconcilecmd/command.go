// Package reconcilecmd resolves the free-text owner names in the
// equipment directory to verified Slack identities, with a human
// operator in the loop for everything the scorer cannot match.
package reconcilecmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nduati/equipbot/internal/configutil"
	"github.com/nduati/equipbot/internal/directory"
	"github.com/nduati/equipbot/internal/logutil"
	"github.com/nduati/equipbot/internal/reconcile"
	"github.com/nduati/equipbot/internal/slackapi"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match directory owner names to Slack identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or EQUIPBOT_SLACK_BOT_TOKEN)")
			}
			directoryPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "directory", "directory.path"))
			if directoryPath == "" {
				return fmt.Errorf("missing directory.path (set via --directory or EQUIPBOT_DIRECTORY_PATH)")
			}
			cachePath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "cache", "reconcile.cache_path"))
			if cachePath == "" {
				cachePath = "owner_cache.json"
			}
			reportPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "report", ""))
			dryRun := configutil.FlagOrViperBool(cmd, "dry-run", "")
			nonInteractive := configutil.FlagOrViperBool(cmd, "non-interactive", "")

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
			cache, err := reconcile.LoadCache(cachePath)
			if err != nil {
				return fmt.Errorf("load owner cache: %w", err)
			}

			httpClient := &http.Client{Timeout: 30 * time.Second}
			api := slackapi.New(httpClient, "https://slack.com/api", botToken, "")
			users, err := api.UsersList(cmd.Context())
			if err != nil {
				return fmt.Errorf("list slack users: %w", err)
			}
			identities := identitiesFromUsers(users)
			if len(identities) == 0 {
				return fmt.Errorf("slack users.list returned no usable identities")
			}

			var resolver reconcile.Resolver
			if !nonInteractive {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("stdin is not a terminal; rerun interactively or pass --non-interactive")
				}
				resolver = newStdinResolver(os.Stdin, os.Stdout, identities)
			}

			engine := &reconcile.Engine{
				Identities: identities,
				Cache:      cache,
				Resolver:   resolver,
				Logger:     logger,
			}

			logger.Info("reconcile_start",
				"directory_path", directoryPath,
				"directory_records", dir.Len(),
				"identities", len(identities),
				"cache_entries", cache.Len(),
				"dry_run", dryRun,
			)

			unmatched := make(map[string][]string)
			var cacheHits, matched, dropped int
			for _, t := range directory.AllTypes {
				res, err := engine.Reconcile(cmd.Context(), dir.Records(t))
				if err != nil {
					return fmt.Errorf("reconcile %s: %w", t, err)
				}
				dir.SetRecords(t, res.Records)
				if len(res.Unmatched) > 0 {
					unmatched[string(t)] = res.Unmatched
				}
				cacheHits += res.CacheHits
				matched += res.Matched
				dropped += res.Dropped
			}

			if reportPath != "" {
				if err := writeUnmatchedReport(reportPath, unmatched); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if !dryRun {
				if err := directory.Save(directoryPath, dir); err != nil {
					return fmt.Errorf("save directory: %w", err)
				}
			}

			logger.Info("reconcile_done",
				"cache_hits", cacheHits,
				"matched", matched,
				"dropped", dropped,
				"unmatched", unmatchedCount(unmatched),
				"dry_run", dryRun,
			)
			return nil
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("cache", "owner_cache.json", "Path to the persistent owner match cache.")
	cmd.Flags().String("report", "", "Write a YAML report of unmatched owner names to this path.")
	cmd.Flags().Bool("dry-run", false, "Reconcile without writing the directory back.")
	cmd.Flags().Bool("non-interactive", false, "Skip operator prompts; unmatched records pass through unchanged.")

	return cmd
}

// identitiesFromUsers converts the workspace user list into the roster,
// preserving Slack's order. Deleted users, bots and accounts without an
// id are excluded.
func identitiesFromUsers(users []slackapi.User) []reconcile.Identity {
	identities := make([]reconcile.Identity, 0, len(users))
	for _, user := range users {
		id := strings.TrimSpace(user.ID)
		if id == "" || user.Deleted || user.IsBot {
			continue
		}
		identities = append(identities, reconcile.Identity{
			ID:          id,
			DisplayName: strings.TrimSpace(user.Profile.RealName),
			Email:       strings.TrimSpace(user.Profile.Email),
		})
	}
	return identities
}

func writeUnmatchedReport(path string, unmatched map[string][]string) error {
	raw, err := yaml.Marshal(map[string]any{"unmatched": unmatched})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func unmatchedCount(unmatched map[string][]string) int {
	n := 0
	for _, names := range unmatched {
		n += len(names)
	}
	return n
}
