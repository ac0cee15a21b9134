// Package lockfile guards a LeadPipe state directory against a second running
// instance. The flock is released by the kernel when the process exits.
package lockfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/logx"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "leadpipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Command string
	Started time.Time
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	state := "not running - stale lock"
	if isProcessRunning(o.PID) {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Command != "" {
		s += ", command " + o.Command
	}
	if !o.Started.IsZero() {
		s += ", started " + o.Started.Format(time.RFC3339)
	}
	return s
}

// AcquireLock takes the lock on stateDir for the given command name, creating
// the directory when needed. A *LockError is returned when another process
// holds it.
func AcquireLock(stateDir, command string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	logx.Debug().Str("lock_path", lockPath).Str("command", command).Msg("acquiring state directory lock")

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the holder's information must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := readOwner(lockPath)
		logx.Error().Err(err).Str("lock_path", lockPath).Str("owner", owner.String()).Msg("another LeadPipe instance holds the state directory")
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	info := fmt.Sprintf("pid=%d\ncommand=%s\nstarted=%s\n", os.Getpid(), command, time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	logx.Info().Str("lock_path", lockPath).Int("pid", os.Getpid()).Msg("state directory locked")
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(f *os.File, info string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		logx.Warn().Err(err).Str("lock_path", f.Name()).Msg("failed to sync lock file")
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale info.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logx.Warn().Err(err).Str("lock_path", l.path).Msg("failed to remove lock file")
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		logx.Warn().Err(err).Str("lock_path", l.path).Msg("failed to release flock")
	}
	err := l.file.Close()
	l.file = nil
	logx.Info().Str("lock_path", l.path).Msg("state directory lock released")
	return err
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another LeadPipe instance is using this state directory (lock file %s, held by %s); "+
		"if no other instance is running, remove the lock file and retry", e.LockPath, e.Owner)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readOwner parses the key=value lines of a lock file. Unknown keys are ignored.
func readOwner(lockPath string) Owner {
	var o Owner
	f, err := os.Open(lockPath)
	if err != nil {
		return o
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "command":
			o.Command = value
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
