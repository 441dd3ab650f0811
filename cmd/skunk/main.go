package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var mainCommand = &cobra.Command{
	Use:          "skunk",
	Short:        "Intercepting proxy core",
	SilenceUsage: true,
}

func init() {
	mainCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "set configuration file path")
}

func main() {
	if err := mainCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
