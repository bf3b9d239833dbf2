package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/hkg"
	"github.com/git-pkgs/hkg/internal/hdb"
)

// Local selects the installed packages in list packages.
const Local = "local"

type repositoryOutput struct {
	URL   string `yaml:"url"`
	Label string `yaml:"label,omitempty"`
}

type packageOutput struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type listingOutput struct {
	Repository string          `yaml:"repository"`
	Packages   []packageOutput `yaml:"packages"`
	Error      string          `yaml:"error,omitempty"`
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List repositories or packages",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newListReposCmd(a), newListPackagesCmd(a))
	return cmd
}

func newListReposCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List registered repositories in resolution order",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := checkOutput(format); err != nil {
				return err
			}
			m, err := a.open()
			if err != nil {
				return err
			}
			repos, err := m.Settings.Repositories()
			if err != nil {
				return err
			}

			if format == outputYAML {
				out := make([]repositoryOutput, 0, len(repos))
				for _, r := range repos {
					out = append(out, repositoryOutput{URL: r.URL, Label: r.Label})
				}
				return writeYAML(a.stdout, out)
			}

			st := newStyles(a.stdout)
			if len(repos) == 0 {
				fmt.Fprintln(a.stdout, st.Muted.Render("no repositories registered"))
				return nil
			}
			for _, r := range repos {
				if r.Label != "" {
					fmt.Fprintf(a.stdout, "%s %s\n", r.URL, st.Muted.Render("("+r.Label+")"))
				} else {
					fmt.Fprintln(a.stdout, r.URL)
				}
			}
			return nil
		},
	}
	addOutputFlag(cmd, &format)
	return cmd
}

func newListPackagesCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "packages <url|all|local>",
		Short: "List packages offered by a repository, by all repositories, or installed",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(format); err != nil {
				return err
			}
			m, err := a.open()
			if err != nil {
				return err
			}

			if args[0] == Local {
				installed, err := m.Engine.ListInstalled()
				if err != nil {
					return err
				}
				if format == outputYAML {
					return writeYAML(a.stdout, packagesOutput(installed))
				}
				a.printEntries(installed, "")
				return nil
			}

			listings, err := m.Engine.ListAvailable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == outputYAML {
				if err := writeYAML(a.stdout, listingsOutput(listings)); err != nil {
					return err
				}
			} else {
				a.printListings(listings)
			}

			failed := 0
			for _, l := range listings {
				if l.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return &ExitError{
					Code: ExitPartial,
					Err:  fmt.Errorf("%d of %d repositories could not be listed", failed, len(listings)),
				}
			}
			return nil
		},
	}
	addOutputFlag(cmd, &format)
	return cmd
}

func (a *app) printListings(listings []hkg.Listing) {
	st := newStyles(a.stdout)
	for i, l := range listings {
		if i > 0 {
			fmt.Fprintln(a.stdout)
		}
		fmt.Fprintln(a.stdout, st.Title.Render(l.Repository.String()))
		if l.Err != nil {
			fmt.Fprintf(a.stdout, "  %s %v\n", st.Error.Render("error:"), l.Err)
			continue
		}
		a.printEntries(l.Packages, "  ")
	}
}

func (a *app) printEntries(entries []hdb.Entry, indent string) {
	if len(entries) == 0 {
		fmt.Fprintln(a.stdout, indent+newStyles(a.stdout).Muted.Render("no packages"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(a.stdout, "%s%s : %s\n", indent, e.Name, e.Version)
	}
}

func packagesOutput(entries []hdb.Entry) []packageOutput {
	out := make([]packageOutput, 0, len(entries))
	for _, e := range entries {
		out = append(out, packageOutput{Name: e.Name, Version: e.Version.String()})
	}
	return out
}

func listingsOutput(listings []hkg.Listing) []listingOutput {
	out := make([]listingOutput, 0, len(listings))
	for _, l := range listings {
		lo := listingOutput{Repository: l.Repository.URL, Packages: packagesOutput(l.Packages)}
		if l.Err != nil {
			lo.Error = l.Err.Error()
		}
		out = append(out, lo)
	}
	return out
}
