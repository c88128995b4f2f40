// Package cli implements the pinject command line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"

	"gitlab.com/tozd/go/pinject/internal/config"
)

// ErrUsage is returned for invalid command line arguments.
var ErrUsage = errors.Base("usage error")

type globalOptions struct {
	configPath string
	platform   string
	logLevel   string
}

// loadConfig loads the configuration file (if any) and applies flags which were set.
func (o *globalOptions) loadConfig(flags *pflag.FlagSet) (*config.Config, errors.E) {
	var cfg *config.Config
	if o.configPath != "" {
		var errE errors.E
		cfg, errE = config.Load(o.configPath)
		if errE != nil {
			return nil, errE
		}
	} else {
		cfg = config.Default()
	}
	if flags.Changed("platform") {
		cfg.Platform = o.platform
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// NewRootCmd returns the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	global := &globalOptions{}

	rootCmd := newInjectCmd(global)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&global.configPath, "config", "", "path to the YAML configuration file")
	flags.StringVar(&global.platform, "platform", config.DefaultPlatform, "platform preset (android, android-legacy, glibc)")
	flags.StringVar(&global.logLevel, "log-level", "info", "logging level (trace, debug, info, warn, error, disabled)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.WrapWith(err, ErrUsage)
	})

	rootCmd.AddCommand(newMapsCmd(global))
	rootCmd.AddCommand(newResolveCmd(global))
	rootCmd.AddCommand(newPidofCmd())

	return rootCmd
}

// Execute runs the command line tool with arguments of this process.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	return ExecuteArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the command line tool with args. On usage errors
// the usage is printed to stderr.
func ExecuteArgs(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err != nil && errors.Is(err, ErrUsage) {
		_, _ = fmt.Fprintf(stderr, "Error: %s\n", err.Error())
		_, _ = fmt.Fprint(stderr, cmd.UsageString())
	}
	return err
}

// usageArgs wraps positional argument validation errors with ErrUsage.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		err := validate(cmd, args)
		if err != nil {
			return errors.WrapWith(err, ErrUsage)
		}
		return nil
	}
}

// parsePid parses a positive PID. Prefixes 0x and 0 select hex and octal.
func parsePid(arg string) (int, errors.E) {
	pid, err := strconv.ParseInt(arg, 0, strconv.IntSize)
	if err != nil || pid <= 0 {
		return 0, errors.WithDetails(ErrUsage, "pid", arg)
	}
	return int(pid), nil
}
