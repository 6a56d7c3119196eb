// Package configutil resolves settings from command flags with viper
// fallback. An explicitly set flag always wins over the config file or
// environment.
package configutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetString(viperKey)
	}
	if cmd != nil {
		if v, err := cmd.Flags().GetString(flagName); err == nil {
			return v
		}
	}
	return ""
}

func FlagOrViperStringArray(cmd *cobra.Command, flagName, viperKey string) []string {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetStringArray(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetStringSlice(viperKey)
	}
	if cmd != nil {
		if v, err := cmd.Flags().GetStringArray(flagName); err == nil {
			return v
		}
	}
	return nil
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetInt(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetInt(viperKey)
	}
	if cmd != nil {
		if v, err := cmd.Flags().GetInt(flagName); err == nil {
			return v
		}
	}
	return 0
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetBool(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetBool(viperKey)
	}
	if cmd != nil {
		if v, err := cmd.Flags().GetBool(flagName); err == nil {
			return v
		}
	}
	return false
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil && cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetDuration(flagName)
		if err == nil {
			return v
		}
	}
	if viperKey != "" && viper.IsSet(viperKey) {
		return viper.GetDuration(viperKey)
	}
	if cmd != nil {
		if v, err := cmd.Flags().GetDuration(flagName); err == nil {
			return v
		}
	}
	return 0
}
