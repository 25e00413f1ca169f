package cmd

import (
	"fmt"

	"github.com/muesli/coral"
	"github.com/preservio/ocfl"
)

var commitFlags = struct {
	message string
	name    string
	email   string
}{}

var commitCmd = &coral.Command{
	Use:   "commit <object-id> <src-dir>",
	Short: "create a new object version from a directory's contents",
	Long: "Commit creates a new version of the object whose state is exactly " +
		"the contents of the source directory. The object is created if it " +
		"doesn't exist; unchanged files are deduplicated, not re-stored.",
	Args: coral.ExactArgs(2),
	RunE: func(cmd *coral.Command, args []string) error {
		id, srcDir := args[0], args[1]
		repo, err := openRepo(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer repo.Close()
		info := ocfl.VersionInfo{Message: commitFlags.message}
		if commitFlags.name != "" {
			info.User = &ocfl.User{Name: commitFlags.name, Address: commitFlags.email}
		}
		details, err := repo.PutObject(cmd.Context(), id, srcDir, info)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: committed %s\n", id, details.Head)
		return nil
	},
}

func init() {
	commitCmd.Flags().StringVarP(&commitFlags.message, "message", "m", "", "version message")
	commitCmd.Flags().StringVarP(&commitFlags.name, "name", "n", "", "user name for the version")
	commitCmd.Flags().StringVarP(&commitFlags.email, "email", "e", "", "user email for the version")
	rootCmd.AddCommand(commitCmd)
}
