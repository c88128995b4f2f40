package pinject

import (
	"context"
	"os"
	"slices"

	"github.com/shirou/gopsutil/v4/process"
	"gitlab.com/tozd/go/errors"
)

// FindPids returns PIDs of all processes whose first command line argument equals
// name, in increasing order. This process is skipped.
//
// Android application processes set it to their package name.
func FindPids(ctx context.Context, name string) ([]int, errors.E) {
	if name == "" {
		return nil, errors.New("empty process name")
	}
	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "process list")
	}
	self := os.Getpid()
	pids := []int{}
	for _, p := range processes {
		pid := int(p.Pid)
		if pid == self {
			continue
		}
		// Processes can exit or be inaccessible while we are iterating, so errors are skipped.
		cmdline, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(cmdline) == 0 {
			continue
		}
		if cmdline[0] == name {
			pids = append(pids, pid)
		}
	}
	slices.Sort(pids)
	return pids, nil
}

// FindPid returns the PID of the first process (with the lowest PID) whose first
// command line argument equals name.
func FindPid(ctx context.Context, name string) (int, errors.E) {
	pids, errE := FindPids(ctx, name)
	if errE != nil {
		return 0, errE
	}
	if len(pids) == 0 {
		return 0, errors.WithDetails(ErrProcessNotFound, "name", name)
	}
	return pids[0], nil
}
