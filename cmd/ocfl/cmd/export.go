package cmd

import (
	"fmt"

	"github.com/muesli/coral"
)

var exportFlags = struct {
	version int
}{}

var exportCmd = &coral.Command{
	Use:   "export <object-id> <dst-dir>",
	Short: "copy an object's raw OCFL tree to a directory",
	Args:  coral.ExactArgs(2),
	RunE: func(cmd *coral.Command, args []string) error {
		id, dstDir := args[0], args[1]
		repo, err := openRepo(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer repo.Close()
		if exportFlags.version > 0 {
			if err := repo.ExportVersion(cmd.Context(), id, exportFlags.version, dstDir); err != nil {
				return err
			}
		} else if err := repo.ExportObject(cmd.Context(), id, dstDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", id, dstDir)
		return nil
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportFlags.version, "version", 0, "export a single version (default: whole object)")
	rootCmd.AddCommand(exportCmd)
}
