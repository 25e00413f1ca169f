package cmd

import (
	"fmt"

	"github.com/muesli/coral"
)

var purgeFlags = struct {
	yes bool
}{}

var purgeCmd = &coral.Command{
	Use:   "purge <object-id>",
	Short: "remove all traces of an object (irreversible)",
	Args:  coral.ExactArgs(1),
	RunE: func(cmd *coral.Command, args []string) error {
		if !purgeFlags.yes {
			return fmt.Errorf("purge is irreversible; pass --yes to confirm")
		}
		repo, err := openRepo(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.PurgeObject(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeFlags.yes, "yes", false, "confirm the purge")
	rootCmd.AddCommand(purgeCmd)
}
