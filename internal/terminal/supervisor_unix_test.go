//go:build !windows

package terminal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/launcher"
)

type recordingListener struct {
	mu      sync.Mutex
	created []string
	exited  []string
}

func (l *recordingListener) TerminalCreated(info Info) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, info.ID)
}

func (l *recordingListener) TerminalExited(info Info, _ ExitStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exited = append(l.exited, info.ID)
}

func newTestSupervisor(grace time.Duration) (*Supervisor, *recordingListener) {
	l := &recordingListener{}
	s := NewSupervisor(Options{
		Launcher:     launcher.Options{Mode: launcher.ModeDirect},
		ReleaseGrace: grace,
	}, l, logger.NewNop())
	return s, l
}

func waitExit(t *testing.T, s *Supervisor, id string) ExitStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := s.WaitForExit(ctx, id)
	require.NoError(t, err)
	return status
}

func TestSupervisor_CreatePlainCommand(t *testing.T) {
	s, l := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{SessionID: "sess", Command: "echo hello world"})
	require.NoError(t, err)

	status := waitExit(t, s, id)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 0, *status.ExitCode)
	assert.Nil(t, status.Signal)

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out.Output)
	assert.False(t, out.Truncated)
	require.NotNil(t, out.ExitStatus)

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.exited) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{id}, l.created)
}

func TestSupervisor_ShellMetacharacters(t *testing.T) {
	s, _ := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{Command: "echo one && echo two >&2; exit 3"})
	require.NoError(t, err)

	status := waitExit(t, s, id)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 3, *status.ExitCode)

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out.Output)
}

func TestSupervisor_ExplicitArgsCwdAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o600))

	s, _ := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{
		Command: "sh",
		Args:    []string{"-c", `ls; printf '%s' "$TERM_TEST_VAR"`},
		Cwd:     dir,
		Env:     map[string]string{"TERM_TEST_VAR": "from-env"},
	})
	require.NoError(t, err)
	waitExit(t, s, id)

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Equal(t, "marker.txt\nfrom-env", out.Output)
}

func TestSupervisor_OutputByteLimit(t *testing.T) {
	s, _ := newTestSupervisor(0)
	limit := 4
	id, err := s.Create(CreateSpec{Command: "printf", Args: []string{"abcdefgh"}, OutputByteLimit: &limit})
	require.NoError(t, err)
	waitExit(t, s, id)

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Equal(t, "efgh", out.Output)
	assert.True(t, out.Truncated)
}

func TestSupervisor_PollWhileRunning(t *testing.T) {
	s, _ := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)
	defer s.KillAll()

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Nil(t, out.ExitStatus)
}

func TestSupervisor_KillReportsSignal(t *testing.T) {
	s, _ := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{Command: "sleep 30"})
	require.NoError(t, err)

	require.NoError(t, s.Kill(id))
	status := waitExit(t, s, id)
	assert.Nil(t, status.ExitCode)
	require.NotNil(t, status.Signal)

	// still registered, and killing again is fine
	require.NoError(t, s.Kill(id))
	out, err := s.Output(id)
	require.NoError(t, err)
	assert.NotNil(t, out.ExitStatus)
}

func TestSupervisor_WaitForExitAlreadyExited(t *testing.T) {
	s, _ := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{Command: "true"})
	require.NoError(t, err)
	first := waitExit(t, s, id)
	second := waitExit(t, s, id)
	assert.Equal(t, first, second)
}

func TestSupervisor_WaitForExitHonorsContext(t *testing.T) {
	s, _ := newTestSupervisor(0)
	id, err := s.Create(CreateSpec{Command: "sleep 30"})
	require.NoError(t, err)
	defer s.KillAll()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.WaitForExit(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupervisor_ReleaseKeepsTerminalForGraceWindow(t *testing.T) {
	s, _ := newTestSupervisor(200 * time.Millisecond)
	id, err := s.Create(CreateSpec{Command: "sh -c 'echo last; sleep 30'"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		out, err := s.Output(id)
		return err == nil && out.Output == "last\n"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Release(id))
	require.NoError(t, s.Release(id))
	waitExit(t, s, id)

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Equal(t, "last\n", out.Output)
	require.NotNil(t, out.ExitStatus)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, 2*time.Second, 20*time.Millisecond)
	_, err = s.Output(id)
	assert.True(t, agenterr.Is(err, agenterr.KindNotFound))
	assert.NoError(t, s.Release(id))
}

func TestSupervisor_UnknownIDs(t *testing.T) {
	s, _ := newTestSupervisor(0)
	_, err := s.Output("term-404")
	assert.True(t, agenterr.Is(err, agenterr.KindNotFound))
	_, err = s.WaitForExit(context.Background(), "term-404")
	assert.True(t, agenterr.Is(err, agenterr.KindNotFound))
	assert.True(t, agenterr.Is(s.Kill("term-404"), agenterr.KindNotFound))
	assert.NoError(t, s.Release("term-404"))
}

func TestSupervisor_KillAll(t *testing.T) {
	s, _ := newTestSupervisor(time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Create(CreateSpec{Command: "sleep 30"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	done, err := s.Create(CreateSpec{Command: "true"})
	require.NoError(t, err)
	waitExit(t, s, done)
	require.NoError(t, s.Release(ids[0]))

	start := time.Now()
	s.KillAll()
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List())

	// idempotent
	s.KillAll()
	assert.Equal(t, 0, s.Len())
}

func TestSupervisor_CommandNotFound(t *testing.T) {
	s, _ := newTestSupervisor(0)
	_, err := s.Create(CreateSpec{Command: "acpadapter-no-such-tool --flag"})
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindConfiguration))
	assert.Equal(t, 0, s.Len())
}

func TestSupervisor_PTYCommandNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "acpadapter-no-such-tool")
	s := NewSupervisor(Options{
		Launcher: launcher.Options{
			Mode:     launcher.ModeDirect,
			LookPath: func(string) (string, error) { return missing, nil },
		},
		UsePTY: true,
	}, nil, logger.NewNop())

	_, err := s.Create(CreateSpec{Command: "acpadapter-no-such-tool"})
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindConfiguration))
	assert.Equal(t, "Command Not Found", agenterr.ToDisplay(err).Title)
	assert.Equal(t, 0, s.Len())
}

func TestSupervisor_PTYMode(t *testing.T) {
	s := NewSupervisor(Options{
		Launcher: launcher.Options{Mode: launcher.ModeDirect},
		UsePTY:   true,
	}, nil, logger.NewNop())
	id, err := s.Create(CreateSpec{Command: "echo from-pty"})
	require.NoError(t, err)
	status := waitExit(t, s, id)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 0, *status.ExitCode)

	out, err := s.Output(id)
	require.NoError(t, err)
	assert.Contains(t, out.Output, "from-pty")
}
