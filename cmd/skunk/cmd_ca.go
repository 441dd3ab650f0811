package main

import (
	"os"

	"github.com/twnesss/skunk/ca"
	"github.com/twnesss/skunk/option"

	"github.com/sagernet/sing/common/logger"

	"github.com/spf13/cobra"
)

var commandCA = &cobra.Command{
	Use:   "ca",
	Short: "Certificate authority tools",
}

var caDirectory string

var commandCAInit = &cobra.Command{
	Use:   "init",
	Short: "Generate or load the root certificate and print its path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		authority, err := ca.IssueRoot(logger.NOP(), option.CAOptions{Directory: caDirectory})
		if err != nil {
			return err
		}
		defer authority.Close()
		_, err = os.Stdout.WriteString(authority.CertificatePath() + "\n")
		return err
	},
}

func init() {
	commandCAInit.Flags().StringVarP(&caDirectory, "directory", "d", ".", "root certificate directory")
	commandCA.AddCommand(commandCAInit)
	mainCommand.AddCommand(commandCA)
}
