package main

import (
	"context"

	"github.com/twnesss/skunk"

	"github.com/spf13/cobra"
)

var commandCheck = &cobra.Command{
	Use:   "check",
	Short: "Check configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return check()
	},
}

func init() {
	mainCommand.AddCommand(commandCheck)
}

func check() error {
	options, err := readConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	instance, err := skunk.New(skunk.Options{
		Context: ctx,
		Options: options,
	})
	if err != nil {
		return err
	}
	return instance.Close()
}
