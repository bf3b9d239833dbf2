package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/hkg"
	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/config"
	"github.com/git-pkgs/hkg/internal/engine"
	"github.com/git-pkgs/hkg/internal/logging"
)

var (
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// app carries the state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	verbose     bool
	showVersion bool

	runtime hkg.Runtime
	logger  *slog.Logger
	manager *hkg.Manager
}

// open wires the manager on first use.
func (a *app) open() (*hkg.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	m, err := hkg.Open(a.runtime, a.logger)
	if err != nil {
		return nil, err
	}
	a.manager = m
	return m, nil
}

func (a *app) close() {
	if a.manager != nil {
		_ = a.manager.Close()
	}
}

// setup resolves the runtime configuration once flags are parsed.
func (a *app) setup(cmd *cobra.Command) error {
	rt, err := hkg.LoadRuntime(cmd.Flags())
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	if a.verbose {
		rt.LogLevel = "debug"
	}
	logger, err := logging.New(a.stderr, rt.LogLevel)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	a.runtime = rt
	a.logger = logger
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "hkg",
		Short: "A package manager for your home directory",
		Long: `hkg installs packages into your home directory from one or more
package repositories. Executables are linked into ~/bin, which is expected
to be on your PATH.

Examples:
  hkg repo add https://example.com/hkg   Register a repository
  hkg install spam                        Install a package
  hkg update all                          Update every installed package
  hkg list packages all                   List what the repositories offer`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.showVersion {
				return a.printVersion()
			}
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})

	flags := root.PersistentFlags()
	flags.String(config.KeyHome, "", "home directory to manage (default is the current user's)")
	flags.String(config.KeyLogLevel, "warn", "log level: debug, info, warn, error or off")
	flags.Duration(config.KeyFetchTimeout, 2*time.Minute, "timeout for a single repository request")
	flags.Int(config.KeyFetchRetries, 0, "retries for rate-limited or failing repository requests")
	flags.Int64(config.KeyMaxArchiveSize, archive.DefaultMaxSize, "largest archive accepted, in bytes")
	flags.String(config.KeyCompression, "", "compression for built packages: gzip, zstd, lz4 or none")
	flags.Duration(config.KeyLockTimeout, time.Minute, "how long to wait for another hkg process to finish; 0 waits until interrupted")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	root.Flags().BoolVar(&a.showVersion, "version", false, "print the installed hkg version")

	root.AddCommand(
		newInstallCmd(a),
		newRemoveCmd(a),
		newUpdateCmd(a),
		newRepoCmd(a),
		newListCmd(a),
		newPackageCmd(a),
		newInfoCmd(a),
		newReadmeCmd(a),
	)
	return root
}

// usageArgs reports argument validation failures as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}
		return nil
	}
}

// getVersionString returns the build version for display.
func getVersionString() string {
	if hkg.Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", hkg.Version, Commit, BuildDate)
}

// printVersion prints the version of the installed hkg package, falling
// back to the build version when hkg is not installed through itself.
func (a *app) printVersion() error {
	m, err := a.open()
	if err != nil {
		return err
	}
	v, ok, err := m.Engine.InstalledVersion(engine.SelfName)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(a.stdout, "HKG - %s\n", v)
		return nil
	}
	fmt.Fprintf(a.stdout, "HKG - %s\n", getVersionString())
	return nil
}

// run executes the command line args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		st := newStyles(stderr)
		fmt.Fprintln(stderr, st.Error.Render("Error:")+" "+err.Error())
	}
	return exitCode(err)
}
