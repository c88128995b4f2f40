package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/tozd/go/pinject"
)

func newPidofCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "pidof NAME",
		Short: "Print the PID of the process with the given first command line argument",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !all {
				pid, errE := pinject.FindPid(cmd.Context(), args[0])
				if errE != nil {
					return errE
				}
				_, _ = fmt.Fprintln(out, pid)
				return nil
			}

			pids, errE := pinject.FindPids(cmd.Context(), args[0])
			if errE != nil {
				return errE
			}
			if len(pids) == 0 {
				return errors.WithDetails(pinject.ErrProcessNotFound, "name", args[0])
			}
			for _, pid := range pids {
				_, _ = fmt.Fprintln(out, pid)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "print all matching PIDs")

	return cmd
}
