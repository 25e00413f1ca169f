package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/coral"
)

var (
	okStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var validateFlags = struct {
	deep bool
}{}

var validateCmd = &coral.Command{
	Use:   "validate <object-id>",
	Short: "verify a stored object against its inventory",
	Args:  coral.ExactArgs(1),
	RunE: func(cmd *coral.Command, args []string) error {
		repo, err := openRepo(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer repo.Close()
		out := cmd.OutOrStdout()
		if err := repo.Validate(cmd.Context(), args[0], validateFlags.deep); err != nil {
			fmt.Fprintln(out, errStyle.Render("invalid:"), err)
			return err
		}
		fmt.Fprintln(out, okStyle.Render("ok"))
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateFlags.deep, "deep", false, "re-digest every content file")
	rootCmd.AddCommand(validateCmd)
}
