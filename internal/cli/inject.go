package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/tozd/go/pinject"
	"gitlab.com/tozd/go/pinject/internal/logging"
)

type injectOptions struct {
	global   *globalOptions
	pid      string
	process  string
	library  string
	function string
	param    string
	timeout  time.Duration
	unload   bool
}

func newInjectCmd(global *globalOptions) *cobra.Command {
	opts := &injectOptions{global: global}

	cmd := &cobra.Command{
		Use:   "pinject -p PID | -P NAME -l LIBRARY [-f FUNCTION] [-s PARAM]",
		Short: "Load a shared library into a running process and call its entry point",
		Long: `Attaches to a running process with ptrace, maps a scratch region inside it,
loads the library with the process' own dynamic loader and calls the exported
function with the address of the parameter string as its only argument.
Afterwards the process continues from where it was interrupted.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInject(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.pid, "pid", "p", "", "PID of the target process (decimal or 0x-prefixed hex)")
	flags.StringVarP(&opts.process, "process", "P", "", "name (first command line argument) of the target process")
	flags.StringVarP(&opts.library, "library", "l", "", "path of the shared library as seen by the target process")
	flags.StringVarP(&opts.function, "function", "f", pinject.DefaultSymbol, "exported function to call")
	flags.StringVarP(&opts.param, "param", "s", "", "parameter string passed to the function")
	flags.DurationVar(&opts.timeout, "timeout", pinject.DefaultCallTimeout, "time a single remote call has to return")
	flags.BoolVar(&opts.unload, "unload", false, "unload the library after the function returned")

	return cmd
}

func runInject(cmd *cobra.Command, opts *injectOptions) error {
	if (opts.pid == "") == (opts.process == "") {
		return errors.WithMessage(ErrUsage, "exactly one of --pid and --process is required")
	}
	if opts.library == "" {
		return errors.WithMessage(ErrUsage, "--library is required")
	}
	var pid int
	if opts.pid != "" {
		var errE errors.E
		pid, errE = parsePid(opts.pid)
		if errE != nil {
			return errE
		}
	}

	cfg, errE := opts.global.loadConfig(cmd.Flags())
	if errE != nil {
		return errE
	}
	if cmd.Flags().Changed("timeout") {
		cfg.CallTimeout = opts.timeout
	}
	if cmd.Flags().Changed("unload") {
		cfg.Unload = opts.unload
	}
	errE = cfg.Validate()
	if errE != nil {
		return errE
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})

	ctx := cmd.Context()

	if opts.pid == "" {
		pid, errE = pinject.FindPid(ctx, opts.process)
		if errE != nil {
			return errE
		}
		logger.Info().Str("process", opts.process).Int("pid", pid).Msg("found process")
	}

	platform, errE := cfg.PlatformFor(pinject.NativeArch())
	if errE != nil {
		return errE
	}

	injector := &pinject.Injector{
		Platform:     platform,
		FS:           nil,
		CallTimeout:  cfg.CallTimeout,
		PollInterval: cfg.PollInterval,
		Unload:       cfg.Unload,
		Logger:       logger,
	}

	result, errE := injector.Inject(ctx, pinject.Request{
		Pid:      pid,
		Library:  opts.library,
		Symbol:   opts.function,
		Argument: []byte(opts.param),
	})
	if errE != nil {
		return errE
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "session: %s\n", result.SessionID)
	_, _ = fmt.Fprintf(out, "scratch: %#x\n", result.Scratch)
	_, _ = fmt.Fprintf(out, "handle:  %#x\n", result.Handle)
	_, _ = fmt.Fprintf(out, "entry:   %#x\n", result.Entry)
	_, _ = fmt.Fprintf(out, "return:  %#x\n", result.ReturnValue)
	return nil
}
