package cmd

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/coral"
	"github.com/preservio/ocfl"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(12)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

var statCmd = &coral.Command{
	Use:   "stat <object-id>",
	Short: "show an object's versions and metadata",
	Args:  coral.ExactArgs(1),
	RunE: func(cmd *coral.Command, args []string) error {
		repo, err := openRepo(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer repo.Close()
		details, err := repo.DescribeObject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, labelStyle.Render("id:"), details.ID)
		fmt.Fprintln(out, labelStyle.Render("head:"), details.Head)
		fmt.Fprintln(out, labelStyle.Render("algorithm:"), details.DigestAlgorithm)
		fmt.Fprintln(out, labelStyle.Render("path:"), details.ObjectRootPath)
		vnums := make(ocfl.VNums, 0, len(details.Versions))
		for v := range details.Versions {
			vnums = append(vnums, v)
		}
		sort.Sort(vnums)
		for _, v := range vnums {
			vd := details.Versions[v]
			fmt.Fprintf(out, "%s  %s  %d files  %s\n",
				labelStyle.Render(v.String()+":"),
				vd.Created.Format("2006-01-02 15:04:05"),
				len(vd.Files),
				dimStyle.Render(vd.Message))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
