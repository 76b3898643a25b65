package dap

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/debugd/internal/common/logger"
)

// CommandValidator revalidates a spawn command against the adapter
// allow-list at spawn time, independently of any earlier registry check.
type CommandValidator func(command string) error

// safeEnvVars is the base set of environment variables passed through to
// adapter processes. Anything else must be supplied explicitly.
var safeEnvVars = []string{
	"PATH",
	"HOME",
	"USERPROFILE",
	"LANG",
	"LC_ALL",
	"TERM",
	"SHELL",
	"TMPDIR",
	"TEMP",
	"TMP",
}

// deniedEnvVars are dropped unconditionally, caller intent
// notwithstanding. These influence dynamic linking or runtime startup
// and are a code-injection vector into the adapter process.
var deniedEnvVars = map[string]struct{}{
	"LD_PRELOAD":      {},
	"LD_LIBRARY_PATH": {},
	"LD_AUDIT":        {},
	"NODE_OPTIONS":    {},
	"PYTHONSTARTUP":   {},
	"RUBYOPT":         {},
	"IFS":             {},
}

const deniedEnvPrefix = "DYLD_"

// shellMetaChars are rejected anywhere in a spawn argument. Arguments
// are always passed as an argv vector, never through a shell, so none
// of these have a legitimate use in adapter arguments.
const shellMetaChars = ";&|`$()<>!{}\n\r"

// SpawnOptions describe how to start an adapter process.
type SpawnOptions struct {
	Command string
	Args    []string
	Dir     string
	// Env holds caller-supplied environment entries layered over the
	// safe base set. Denied variables are dropped with a warning.
	Env map[string]string
	// Validator, when set, must approve Command before anything is
	// spawned.
	Validator CommandValidator
}

// Process wraps a running adapter child process and its stdio streams.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	log    *logger.Logger

	exited   chan struct{}
	exitOnce sync.Once
	exitErr  error
	exitMu   sync.RWMutex
}

// ValidateArgs rejects any argument containing shell metacharacters.
// Validation runs before any process is created.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, shellMetaChars) {
			return &UnsafeArgumentError{Argument: arg}
		}
	}
	return nil
}

// FilterEnv builds the child environment: the safe base set from the
// parent environment plus extra entries, with denied variables removed.
func FilterEnv(extra map[string]string, log *logger.Logger) []string {
	env := make(map[string]string, len(safeEnvVars)+len(extra))
	for _, name := range safeEnvVars {
		if value, ok := os.LookupEnv(name); ok {
			env[name] = value
		}
	}
	for name, value := range extra {
		if isDeniedEnvVar(name) {
			if log != nil {
				log.Warn("Dropping denied environment variable from adapter spawn",
					zap.String("variable", name))
			}
			continue
		}
		env[name] = value
	}

	result := make([]string, 0, len(env))
	for name, value := range env {
		result = append(result, name+"="+value)
	}
	return result
}

func isDeniedEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if _, denied := deniedEnvVars[upper]; denied {
		return true
	}
	return strings.HasPrefix(upper, deniedEnvPrefix)
}

// Spawn validates and starts an adapter process. All validation happens
// before the process is created, so a rejection leaves no partial state.
func Spawn(opts SpawnOptions, log *logger.Logger) (*Process, error) {
	if opts.Validator != nil {
		if err := opts.Validator(opts.Command); err != nil {
			return nil, err
		}
	}
	if err := ValidateArgs(opts.Args); err != nil {
		return nil, err
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = FilterEnv(opts.Env, log)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start adapter process: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		log:    log,
		exited: make(chan struct{}),
	}

	log.Info("Adapter process started",
		zap.String("command", opts.Command),
		zap.Int("pid", cmd.Process.Pid))

	go p.waitForExit()
	return p, nil
}

// waitForExit reaps the child and signals completion exactly once.
func (p *Process) waitForExit() {
	err := p.cmd.Wait()

	p.exitMu.Lock()
	p.exitErr = err
	p.exitMu.Unlock()

	p.exitOnce.Do(func() {
		close(p.exited)
	})

	if err != nil {
		p.log.Debug("Adapter process exited with error",
			zap.Int("pid", p.cmd.Process.Pid),
			zap.Error(err))
	} else {
		p.log.Debug("Adapter process exited",
			zap.Int("pid", p.cmd.Process.Pid))
	}
}

// Stdin returns the process's standard input stream.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the process's standard output stream.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Stderr returns the process's standard error stream.
func (p *Process) Stderr() io.ReadCloser { return p.stderr }

// PID returns the child process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Exited is closed when the child process has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitError returns the exit status once Exited is closed.
func (p *Process) ExitError() error {
	p.exitMu.RLock()
	defer p.exitMu.RUnlock()
	return p.exitErr
}

// Kill forcefully terminates the child if it is still running.
func (p *Process) Kill() {
	select {
	case <-p.exited:
		return
	default:
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
