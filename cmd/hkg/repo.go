package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/hkg"
)

func newRepoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories and repository directories",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newRepoAddCmd(a),
		newRepoDelCmd(a),
		newRepoInitCmd(a),
		newRepoUpdateCmd(a),
	)
	return cmd
}

func newRepoAddCmd(a *app) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a repository; earlier repositories win when resolving",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			repo, err := m.Settings.AddRepository(args[0], label)
			if err != nil {
				return err
			}
			st := newStyles(a.stdout)
			fmt.Fprintf(a.stdout, "%s %s\n", st.Success.Render("added repository"), repo)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "short name shown next to the URL")
	return cmd
}

func newRepoDelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "del <url>",
		Aliases: []string{"rm"},
		Short:   "Unregister a repository",
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			repo, err := m.Settings.RemoveRepository(args[0])
			if err != nil {
				return err
			}
			st := newStyles(a.stdout)
			fmt.Fprintf(a.stdout, "%s %s\n", st.Success.Render("removed repository"), repo)
			return nil
		},
	}
}

func newRepoInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Create an empty repository directory",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			if err := m.Builder.InitRepository(args[0]); err != nil {
				return err
			}
			st := newStyles(a.stdout)
			fmt.Fprintf(a.stdout, "%s %s\n", st.Success.Render("initialized repository"), args[0])
			return nil
		},
	}
}

func newRepoUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update <path>",
		Short: "Rebuild a repository's package list from its archives",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			report, err := m.Builder.UpdateRepository(args[0])
			if err != nil {
				return err
			}
			a.printReport(report)
			return nil
		},
	}
}

func (a *app) printReport(r *hkg.RepositoryReport) {
	st := newStyles(a.stdout)
	for _, e := range r.Added {
		fmt.Fprintf(a.stdout, "%s %s %s\n", st.Success.Render("added"), e.Name, e.Version)
	}
	for _, e := range r.Updated {
		fmt.Fprintf(a.stdout, "%s %s %s\n", st.Success.Render("updated"), e.Name, e.Version)
	}
	for _, name := range r.Removed {
		fmt.Fprintf(a.stdout, "%s %s\n", st.Success.Render("removed"), name)
	}
	for _, s := range r.Stale {
		fmt.Fprintf(a.stdout, "%s %s: archive has %s, repository lists %s\n",
			st.Warning.Render("stale"), s.Name, s.Archive, s.Listed)
	}
	for _, inv := range r.Invalid {
		fmt.Fprintf(a.stdout, "%s %s: %v\n", st.Warning.Render("invalid"), inv.Path, inv.Err)
	}
	if len(r.Added)+len(r.Updated)+len(r.Removed)+len(r.Stale)+len(r.Invalid) == 0 {
		fmt.Fprintln(a.stdout, st.Muted.Render("repository is up to date"))
	}
}
