package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"laundry-sync-backend/config"
)

const defaultConfigPath = "./config/config.yaml"

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *config.Config
	err    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// configPath resolves the flag, then CONFIG_PATH, then the default.
func (c *commandContext) configPath() string {
	if c.configFlag != nil && *c.configFlag != "" {
		return *c.configFlag
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return defaultConfigPath
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		path := c.configPath()
		cfg, err := config.Load(path)
		if err != nil {
			c.err = fmt.Errorf("load configuration from %s: %w", path, err)
			return
		}
		c.config = cfg
	})
	return c.config, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "laundryd",
		Short:         "Shared laundry machine daemon and sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $CONFIG_PATH or "+defaultConfigPath+")")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	return rootCmd
}
