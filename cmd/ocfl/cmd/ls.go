package cmd

import (
	"fmt"
	"sort"

	"github.com/muesli/coral"
)

var lsFlags = struct {
	version int
	withIDs bool
}{}

var lsCmd = &coral.Command{
	Use:   "ls [object-id]",
	Short: "list objects in the repository, or files in an object version",
	Args:  coral.MaximumNArgs(1),
	RunE: func(cmd *coral.Command, args []string) error {
		repo, err := openRepo(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer repo.Close()
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			for id, err := range repo.ListObjectIDs(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintln(out, id)
			}
			return nil
		}
		details, err := repo.DescribeVersion(cmd.Context(), args[0], lsFlags.version)
		if err != nil {
			return err
		}
		logicals := make([]string, 0, len(details.Files))
		for logical := range details.Files {
			logicals = append(logicals, logical)
		}
		sort.Strings(logicals)
		for _, logical := range logicals {
			if lsFlags.withIDs {
				fmt.Fprintf(out, "%s  %s\n", details.Files[logical].Digest, logical)
				continue
			}
			fmt.Fprintln(out, logical)
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().IntVar(&lsFlags.version, "version", 0, "version number (default: head)")
	lsCmd.Flags().BoolVar(&lsFlags.withIDs, "digests", false, "include file digests")
	rootCmd.AddCommand(lsCmd)
}
