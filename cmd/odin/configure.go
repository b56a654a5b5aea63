package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbround18/valheim/internal/audit"
	"github.com/mbround18/valheim/internal/config"
)

var configureFlags struct {
	name             string
	port             int
	world            string
	password         string
	public           bool
	serverExecutable string
	webhookURL       string
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the server settings to the config file",
	Long: `Writes the server settings to the config file. Flags that are not given keep
the value from the existing file or environment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		if f.Changed("name") {
			cfg.Name = configureFlags.name
		}
		if f.Changed("port") {
			cfg.Port = configureFlags.port
		}
		if f.Changed("world") {
			cfg.World = configureFlags.world
		}
		if f.Changed("password") {
			cfg.Password = configureFlags.password
		}
		if f.Changed("public") {
			cfg.Public = configureFlags.public
		}
		if f.Changed("server-executable") {
			cfg.ServerExecutable = configureFlags.serverExecutable
		}
		if f.Changed("webhook-url") {
			cfg.WebhookURL = configureFlags.webhookURL
		}

		for _, err := range validateConfig(cfg) {
			if errors.Is(err, config.ErrPasswordTooShort) {
				return err
			}
		}

		path := config.FilePath(cfgFile)
		if dryRun {
			fmt.Printf("Would write config to %s\n", path)
			return nil
		}
		if err := config.SaveTo(cfg, cfgFile); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		log.Info("configuration saved", "path", path)
		recordEvent(cfg, audit.EventConfigSaved, map[string]any{
			"path":   path,
			"name":   cfg.Name,
			"port":   cfg.Port,
			"world":  cfg.World,
			"public": cfg.Public,
		})
		return nil
	},
}

func init() {
	f := configureCmd.Flags()
	f.StringVarP(&configureFlags.name, "name", "n", "", "server name")
	f.IntVarP(&configureFlags.port, "port", "p", 2456, "server port")
	f.StringVarP(&configureFlags.world, "world", "w", "", "world name")
	f.StringVarP(&configureFlags.password, "password", "s", "", "server password (at least 5 characters)")
	f.BoolVarP(&configureFlags.public, "public", "o", true, "list the server publicly")
	f.StringVar(&configureFlags.serverExecutable, "server-executable", "", "path to "+config.ExecutableName)
	f.StringVar(&configureFlags.webhookURL, "webhook-url", "", "webhook for notifications")

	rootCmd.AddCommand(configureCmd)
}
