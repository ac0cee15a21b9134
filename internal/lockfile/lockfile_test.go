package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/logx"
)

func TestMain(m *testing.M) {
	logx.Disable()
	os.Exit(m.Run())
}

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "serve")
	require.NoError(t, err)
	defer lock.Release()

	assert.Equal(t, filepath.Join(dir, LockFileName), lock.Path())
	owner := readOwner(lock.Path())
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "serve", owner.Command)
	assert.False(t, owner.Started.IsZero())
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, "serve")
	require.NoError(t, err)
	defer first.Release()

	// flock locks belong to the open file description, so a second open in the
	// same process conflicts just like another process would.
	second, err := AcquireLock(dir, "chat")
	require.Error(t, err)
	assert.Nil(t, second)

	var lockErr *LockError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, os.Getpid(), lockErr.Owner.PID)
	assert.Equal(t, "serve", lockErr.Owner.Command)
	assert.True(t, errors.Is(err, syscall.EWOULDBLOCK))
	assert.Contains(t, err.Error(), "running")
	assert.Contains(t, err.Error(), lockErr.LockPath)
}

func TestLockReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "serve")
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.True(t, os.IsNotExist(err))

	again, err := AcquireLock(dir, "chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", readOwner(again.Path()).Command)
	require.NoError(t, again.Release())
}

func TestReadOwner(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    Owner
	}{
		{"full", "pid=12345\ncommand=serve\n", Owner{PID: 12345, Command: "serve"}},
		{"legacy pid only", "pid=42\n", Owner{PID: 42}},
		{"garbage", "hello world", Owner{}},
		{"bad pid", "pid=abc\ncommand=chat", Owner{Command: "chat"}},
		{"empty", "", Owner{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			assert.Equal(t, tt.want, readOwner(path))
		})
	}
	assert.Equal(t, Owner{}, readOwner(filepath.Join(dir, "missing")))
}

func TestOwnerString(t *testing.T) {
	assert.Equal(t, "unknown process", Owner{}.String())
	s := Owner{PID: os.Getpid(), Command: "serve"}.String()
	assert.Contains(t, s, "(running)")
	assert.Contains(t, s, "command serve")
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, isProcessRunning(os.Getpid()))
	assert.False(t, isProcessRunning(999999))
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "serve")
	require.NoError(t, err)
	defer lock.Release()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
