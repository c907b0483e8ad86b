package commands

import (
	"fmt"
	"os"

	"github.com/peerdrift/peerd/internal/cli/prompt"
	"github.com/peerdrift/peerd/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce bool
	initYes   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a peerd configuration file.

Prompts for the cluster essentials (manager address, storage directory,
upload port) and writes a configuration file with all other settings at
their defaults.

By default, the configuration file is created at $XDG_CONFIG_HOME/peerd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize interactively at the default location
  peerd init

  # Accept all defaults without prompting
  peerd init --yes

  # Force overwrite existing config
  peerd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept defaults without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce && configExistsAt(configPath) {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()

	if !initYes {
		if err := promptEssentials(cfg); err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("Aborted")
				return nil
			}
			return err
		}
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the daemon with: peerd start")
	fmt.Printf("  3. Or specify custom config: peerd start --config %s\n", configPath)

	return nil
}

// promptEssentials asks for the settings every deployment has to decide on.
func promptEssentials(cfg *config.Config) error {
	addr, err := prompt.Input("Manager address", cfg.Manager.Addr)
	if err != nil {
		return err
	}
	cfg.Manager.Addr = addr

	dir, err := prompt.Input("Storage directory", cfg.Storage.Dir)
	if err != nil {
		return err
	}
	cfg.Storage.Dir = dir

	port, err := prompt.InputPort("Upload port (peers download pieces from here)", cfg.Upload.Port)
	if err != nil {
		return err
	}
	cfg.Upload.Port = port

	seed, err := prompt.Confirm("Register as a seed peer", cfg.Host.SeedPeer)
	if err != nil {
		return err
	}
	cfg.Host.SeedPeer = seed

	return nil
}

func configExistsAt(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
