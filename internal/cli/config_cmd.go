// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), a.cfg).Write(out)
			}
			switch strings.ToLower(format) {
			case "toml":
				return toml.NewEncoder(out).Encode(a.cfg)
			case "json":
				data, err := json.MarshalIndent(a.cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			return usagef("unknown format %q (use toml or json)", format)
		},
	}
	show.Flags().StringVar(&format, "format", "toml", "toml or json")

	cmd.AddCommand(
		show,
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := a.configFile()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return NewJSONResponse(cmd.CommandPath(), map[string]string{"path": path}).Write(out)
				}
				fmt.Fprintln(out, path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every settable key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return NewJSONResponse(cmd.CommandPath(), config.GetAllKeys()).Write(out)
				}
				for _, k := range config.GetAllKeys() {
					fmt.Fprintln(out, k)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one effective setting",
			Example: `  agentchat config get backend.url
  agentchat config get retry.max_retries`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return usagef("%v", err)
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return NewJSONResponse(cmd.CommandPath(), map[string]any{"key": args[0], "value": v}).Write(out)
				}
				fmt.Fprintln(out, v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change a setting in the config file",
			Example: `  agentchat config set backend.url https://chat.example.com
  agentchat config set cache.ttl 45s
  agentchat config set retry.max_retries 0`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := a.configFile()
				if err != nil {
					return err
				}
				cfg, err := readConfigFile(path)
				if err != nil {
					return &ConfigError{Err: err}
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return usagef("%v", err)
				}
				if err := cfg.Validate(); err != nil {
					return &ConfigError{Err: err}
				}
				if err := writeConfigFile(cfg, path); err != nil {
					return err
				}
				return a.printDone(cmd, "Saved", map[string]string{"id": args[0] + " = " + args[1], "path": path})
			},
		},
	)
	return cmd
}

// configFile returns the file config commands read and write.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	tomlPath, err := config.ConfigPathTOML()
	if err != nil {
		return "", err
	}
	// A JSON file is used only when there is no TOML one, matching Load.
	if jsonPath, err := config.ConfigPathJSON(); err == nil && !fileExists(tomlPath) && fileExists(jsonPath) {
		return jsonPath, nil
	}
	return tomlPath, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// readConfigFile loads only the file and defaults, so that environment
// overrides are never written back.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	var err error
	switch {
	case !fileExists(path):
	case isJSONPath(path):
		err = config.LoadJSON(cfg, path)
	default:
		err = config.LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

func writeConfigFile(cfg *config.Config, path string) error {
	if isJSONPath(path) {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
