package cmd

import (
	"fmt"

	"github.com/muesli/coral"
)

var initCmd = &coral.Command{
	Use:   "init",
	Short: "initialize a new OCFL storage root",
	RunE: func(cmd *coral.Command, args []string) error {
		repo, err := openRepo(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer repo.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "storage root initialized")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
