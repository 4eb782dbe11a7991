package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/auditparse/internal/api"
	"github.com/jackzampolin/auditparse/internal/config"
	"github.com/jackzampolin/auditparse/internal/home"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage auditparse configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if h.ConfigExists() && path == h.ConfigPath() && !configInitForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		slog.Info("wrote default config", "path", path)
		return api.Output(map[string]string{"config": path})
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := loadConfig()
		if err != nil {
			return err
		}
		entries := mgr.Entries()
		for i := range entries {
			if entries[i].Key == "provider.api_key" {
				entries[i].Value = redact(fmt.Sprint(entries[i].Value))
			}
		}
		return api.Output(struct {
			File    string         `json:"file,omitempty" yaml:"file,omitempty"`
			Entries []config.Entry `json:"entries" yaml:"entries"`
		}{File: mgr.ConfigFile(), Entries: entries})
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// redact hides literal keys; ${ENV_VAR} references are shown as written.
func redact(key string) string {
	if key == "" || (len(key) > 3 && key[:2] == "${") {
		return key
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
