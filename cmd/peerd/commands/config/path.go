package config

import (
	"fmt"

	"github.com/peerdrift/peerd/pkg/config"
	"github.com/spf13/cobra"
)

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
			fmt.Println(configPath)
			return
		}
		fmt.Println(config.GetDefaultConfigPath())
	},
}
