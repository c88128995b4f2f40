package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"gitlab.com/tozd/go/pinject"
)

func newMapsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "maps PID [MODULE]",
		Short: "List file-backed memory mappings of a process",
		Args:  usageArgs(cobra.RangeArgs(1, 2)), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, errE := parsePid(args[0])
			if errE != nil {
				return errE
			}
			module := ""
			if len(args) > 1 {
				module = args[1]
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

			mappings, errE := resolver.Mappings(pid)
			if errE != nil {
				return errE
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Base", "End", "Perms", "Offset", "Path"})
			for _, m := range mappings {
				if m.Path == "" || !strings.HasPrefix(m.Path, "/") {
					continue
				}
				if module != "" && !strings.Contains(m.Path, module) {
					continue
				}
				t.AppendRow(table.Row{
					fmt.Sprintf("%#x", m.Base),
					fmt.Sprintf("%#x", m.End),
					m.Perms,
					fmt.Sprintf("%#x", m.Offset),
					m.Path,
				})
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}
