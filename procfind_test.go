package pinject

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func TestFindPid(t *testing.T) {
	t.Parallel()

	name := fmt.Sprintf("pinject.test.%d", os.Getpid())

	_, errE := FindPid(context.Background(), name)
	assert.ErrorIs(t, errE, ErrProcessNotFound)
	assert.Equal(t, name, errors.AllDetails(errE)["name"])

	pids := []int{}
	for range 2 {
		cmd := exec.Command("/bin/sleep", "infinity")
		cmd.Args[0] = name
		require.NoError(t, cmd.Start())
		t.Cleanup(func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		})
		pids = append(pids, cmd.Process.Pid)
	}

	found, errE := FindPids(context.Background(), name)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.ElementsMatch(t, pids, found)
	assert.IsIncreasing(t, found)

	pid, errE := FindPid(context.Background(), name)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, found[0], pid)
}

func TestFindPidsEmptyName(t *testing.T) {
	t.Parallel()

	_, errE := FindPids(context.Background(), "")
	assert.Error(t, errE)
}
