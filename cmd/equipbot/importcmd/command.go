// Package importcmd builds the equipment directory from the master
// inventory spreadsheet export.
package importcmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nduati/equipbot/internal/configutil"
	"github.com/nduati/equipbot/internal/directory"
	"github.com/nduati/equipbot/internal/logutil"
	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Build the equipment directory from an inventory CSV export",
		RunE: func(cmd *cobra.Command, args []string) error {
			csvPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "csv", "import.csv_path"))
			if csvPath == "" {
				return fmt.Errorf("missing import.csv_path (set via --csv or EQUIPBOT_IMPORT_CSV_PATH)")
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

			cols := Columns{
				ID:     configutil.FlagOrViperInt(cmd, "id-column", "import.id_column"),
				Serial: configutil.FlagOrViperInt(cmd, "serial-column", "import.serial_column"),
				Owner:  configutil.FlagOrViperInt(cmd, "owner-column", "import.owner_column"),
				Cohort: configutil.FlagOrViperInt(cmd, "cohort-column", "import.cohort_column"),
			}

			f, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("open inventory csv: %w", err)
			}
			defer f.Close()

			dir, stats, err := ParseInventory(f, cols)
			if err != nil {
				return err
			}
			if err := directory.Save(directoryPath, dir); err != nil {
				return fmt.Errorf("save directory: %w", err)
			}

			logger.Info("import_done",
				"csv_path", csvPath,
				"directory_path", directoryPath,
				"imported", stats.Imported,
				"skipped", stats.Skipped,
				"unmatched_rows", stats.Unmatched,
				"macbooks", stats.PerType[directory.TypeMacbooks],
				"chargers", stats.PerType[directory.TypeChargers],
				"thunderbolts", stats.PerType[directory.TypeThunderbolts],
				"dongles", stats.PerType[directory.TypeDongles],
			)
			return nil
		},
	}

	cmd.Flags().String("csv", "", "Path to the master inventory CSV export.")
	cmd.Flags().Int("id-column", DefaultColumns.ID, "Zero-based column of the equipment id.")
	cmd.Flags().Int("serial-column", DefaultColumns.Serial, "Zero-based column of the serial number (macbooks).")
	cmd.Flags().Int("owner-column", DefaultColumns.Owner, "Zero-based column of the owner name.")
	cmd.Flags().Int("cohort-column", DefaultColumns.Cohort, "Zero-based column of the owner cohort (macbooks).")

	return cmd
}
