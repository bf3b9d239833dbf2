package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/hkg"
)

func newInfoCmd(a *app) *cobra.Command {
	var (
		local  bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "info <name|purl>",
		Short: "Show the metadata of a package",
		Long: `Show the metadata of a package as offered by the first repository that
lists it, without installing anything. With --local the metadata of the
installed package is shown instead.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(format); err != nil {
				return err
			}
			m, err := a.open()
			if err != nil {
				return err
			}

			var info *hkg.PackageInfo
			if local {
				info, err = m.Engine.LocalInfo(args[0])
			} else {
				info, err = m.Engine.Info(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			pairs := infoPairs(info)
			if format == outputYAML {
				return writeYAML(a.stdout, orderedMap(pairs))
			}
			st := newStyles(a.stdout)
			for _, p := range pairs {
				fmt.Fprintf(a.stdout, "%s : %s\n", st.Highlight.Render(p[0]), p[1])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "show the installed package")
	addOutputFlag(cmd, &format)
	return cmd
}

// infoPairs lists every metadata key, unknown ones included, followed by
// where the package comes from.
func infoPairs(info *hkg.PackageInfo) [][2]string {
	var pairs [][2]string
	for _, f := range info.Metadata.Fields() {
		pairs = append(pairs, [2]string{f.Key, f.Value})
	}
	pairs = append(pairs, [2]string{"purl", info.PURL})
	if info.Repository.URL != "" {
		pairs = append(pairs, [2]string{"repository", info.Repository.URL})
	}
	for _, k := range []string{"database", "archive"} {
		if u := info.URLs[k]; u != "" {
			pairs = append(pairs, [2]string{k, u})
		}
	}
	if info.Installed != nil {
		pairs = append(pairs, [2]string{"installed", info.Installed.String()})
	}
	return pairs
}

func newReadmeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "readme",
		Short: "Print the readme of the installed hkg package",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			data, err := m.Engine.Readme()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}
