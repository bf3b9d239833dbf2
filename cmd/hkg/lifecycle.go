package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/hkg"
)

func newInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install <name|purl>",
		Short: "Install a package from the first repository that lists it",
		Long: `Install a package from the first registered repository that lists it.

A package URL such as pkg:hkg/spam?repository_url=https://example.com/hkg
restricts the lookup to one repository; pkg:hkg/spam@1.2 requires that
version.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			res, err := m.Engine.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printResult(res)
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed package and its executables",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			res, err := m.Engine.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printResult(res)
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var opts hkg.UpdateOptions
	cmd := &cobra.Command{
		Use:   "update <name|all>",
		Short: "Update a package, or all installed packages, to the newest version",
		Long: `Update a package, or every installed package with "all", to the highest
version offered by the registered repositories.

Files in the package's etc directory are kept next to the new ones with a
.hkg_old suffix unless --no-preserve is given.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			target := args[0]
			summary, err := m.Engine.Update(cmd.Context(), target, opts)
			for _, res := range summary.Results {
				if res.Status == hkg.StatusFailed && target != hkg.All {
					continue
				}
				a.printResult(res)
			}
			if target == hkg.All && len(summary.Results) == 0 && err == nil {
				fmt.Fprintln(a.stdout, newStyles(a.stdout).Muted.Render("no packages installed"))
			}
			if err == nil {
				return nil
			}
			failed := summary.Failed()
			if target == hkg.All && len(failed) > 0 {
				return &ExitError{
					Code: ExitPartial,
					Err:  fmt.Errorf("%d of %d packages failed to update", len(failed), len(summary.Results)),
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.NoPreserve, "no-preserve", false, "discard the previous etc files instead of keeping .hkg_old copies")
	return cmd
}

// printResult prints one line for a package operation.
func (a *app) printResult(res hkg.Result) {
	st := newStyles(a.stdout)
	name := st.Highlight.Render(res.Package)

	switch res.Status {
	case hkg.StatusInstalled:
		fmt.Fprintf(a.stdout, "%s %s %s from %s\n", st.Success.Render("installed"), name, res.Version, res.Repository)
	case hkg.StatusUpdated:
		from := "?"
		if res.Previous != nil {
			from = res.Previous.String()
		}
		fmt.Fprintf(a.stdout, "%s %s %s -> %s from %s\n", st.Success.Render("updated"), name, from, res.Version, res.Repository)
	case hkg.StatusUpToDate:
		fmt.Fprintf(a.stdout, "%s %s %s\n", st.Muted.Render("up to date"), name, res.Version)
	case hkg.StatusDowngradeRefused:
		installed := "?"
		if res.Previous != nil {
			installed = res.Previous.String()
		}
		fmt.Fprintf(a.stdout, "%s %s: installed %s is newer than %s offered by %s\n",
			st.Warning.Render("kept"), name, installed, res.Version, res.Repository)
	case hkg.StatusRemoved:
		fmt.Fprintf(a.stdout, "%s %s %s\n", st.Success.Render("removed"), name, res.Version)
	case hkg.StatusFailed:
		fmt.Fprintf(a.stdout, "%s %s: %v\n", st.Error.Render("failed"), name, res.Err)
	}
	for _, p := range res.Preserved {
		fmt.Fprintf(a.stdout, "  %s %s\n", st.Muted.Render("preserved"), p)
	}
}
