package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newPackageCmd(a *app) *cobra.Command {
	var publish string
	cmd := &cobra.Command{
		Use:   "package <source-dir>",
		Short: "Build a package archive from a source tree",
		Long: `Build a package archive from a source tree holding a metadata file and a
directory named after the package with bin, etc and lib inside. The
archive is written next to the source tree as <name>.hkg.

With --publish the archive is copied into a local repository directory
and the repository's package list is updated.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			artifact, err := m.Builder.Build(args[0])
			if err != nil {
				return err
			}
			st := newStyles(a.stdout)
			fmt.Fprintf(a.stdout, "%s %s %s -> %s %s\n",
				st.Success.Render("built"), st.Highlight.Render(artifact.Metadata.Name), artifact.Metadata.Version,
				artifact.Path, st.Muted.Render(fmt.Sprintf("(%d bytes)", artifact.Size)))

			if publish == "" {
				return nil
			}
			dest, err := m.Builder.Publish(publish, artifact)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %s\n", st.Success.Render("published"), dest)
			report, err := m.Builder.UpdateRepository(publish)
			if err != nil {
				return err
			}
			a.printReport(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&publish, "publish", "", "repository directory to publish the archive to")
	cmd.AddCommand(newPackageInitCmd(a))
	return cmd
}

func newPackageInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init <dest-dir>",
		Short: "Create a package source tree named after its directory",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			rec, err := m.Builder.Init(args[0])
			if err != nil {
				return err
			}
			st := newStyles(a.stdout)
			fmt.Fprintf(a.stdout, "%s %s in %s\n", st.Success.Render("created package"), st.Highlight.Render(rec.Name), args[0])
			fmt.Fprintln(a.stdout, st.Muted.Render("edit "+filepath.Join(args[0], "metadata")+", then run: hkg package "+args[0]))
			return nil
		},
	}
}
