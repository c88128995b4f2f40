package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.com/tozd/go/pinject"
)

func newResolveCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve PID MODULE SYMBOL",
		Short: "Print the address of an exported symbol inside a process",
		Args:  usageArgs(cobra.ExactArgs(3)), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, errE := parsePid(args[0])
			if errE != nil {
				return errE
			}

			cfg, errE := global.loadConfig(cmd.Flags())
			if errE != nil {
				return errE
			}
			platform, errE := cfg.PlatformFor(pinject.NativeArch())
			if errE != nil {
				return errE
			}
			resolver := &pinject.Resolver{FS: nil, Quirks: platform.Quirks}

			address, errE := resolver.RemoteSymbol(pid, args[1], args[2])
			if errE != nil {
				return errE
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%#x\n", address)
			return nil
		},
	}
}
