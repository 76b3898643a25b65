// Package adapters maintains the catalogue of debug adapters per source
// language: launch/attach argument templates, availability detection,
// and the allow-list that gates which binaries may be spawned.
package adapters

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/debugd/internal/common/logger"
	"github.com/kandev/debugd/internal/debug/dap"
)

// DefaultDetectTimeout bounds a single detection probe.
const DefaultDetectTimeout = 5 * time.Second

// languageIDPattern restricts language identifiers for custom
// registrations.
var languageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// allowedCommands is the fixed allow-list of known debug-adapter
// binaries, keyed by base name with path and platform suffix stripped.
// This list is the sole gate against arbitrary process execution
// through adapter registration.
var allowedCommands = map[string]struct{}{
	"js-debug-adapter":   {},
	"node":               {},
	"python":             {},
	"python3":            {},
	"debugpy":            {},
	"dlv":                {},
	"codelldb":           {},
	"lldb-dap":           {},
	"lldb-vscode":        {},
	"OpenDebugAD7":       {},
	"vsdbg":              {},
	"rdbg":               {},
	"java-debug-adapter": {},
	"dart":               {},
	"php-debug-adapter":  {},
}

// executableSuffixes are stripped before allow-list lookup.
var executableSuffixes = []string{".exe", ".cmd", ".bat"}

// LaunchParams carries the caller-supplied parameters an adapter's
// argument builders template into protocol launch/attach arguments.
type LaunchParams struct {
	Program     string            `json:"program"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Port        int               `json:"port,omitempty"`
	Host        string            `json:"host,omitempty"`
}

// Probe describes how to check that an adapter binary is usable.
type Probe struct {
	Command string
	Args    []string
}

// AdapterConfig describes how to start and talk to one debug adapter.
// Configs are immutable once registered.
type AdapterConfig struct {
	Language    string
	Command     string
	Args        []string
	LaunchArgs  func(params LaunchParams) map[string]any
	AttachArgs  func(params LaunchParams) map[string]any
	Probe       Probe
	InstallHint string
}

// DetectResult reports adapter availability on this machine.
type DetectResult struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	// InstallHint is set when the adapter is unavailable.
	InstallHint string `json:"installHint,omitempty"`
}

// InvalidLanguageError reports a language id outside the accepted
// pattern.
type InvalidLanguageError struct {
	Language string
}

func (e *InvalidLanguageError) Error() string {
	return fmt.Sprintf("adapters: invalid language id %q", e.Language)
}

// ProbeRunner executes a detection probe and returns an error on
// non-zero exit or spawn failure. Injectable for tests.
type ProbeRunner func(ctx context.Context, command string, args []string) error

func defaultProbeRunner(ctx context.Context, command string, args []string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = dap.FilterEnv(nil, nil)
	return cmd.Run()
}

// Registry is the catalogue of built-in and custom adapters. Custom
// registration is expected at startup, not concurrently with active
// debugging, so a single mutex over the custom map suffices.
type Registry struct {
	mu      sync.RWMutex
	builtin map[string]*AdapterConfig
	custom  map[string]*AdapterConfig

	probeRunner   ProbeRunner
	detectTimeout time.Duration
	log           *logger.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithProbeRunner replaces the probe execution function.
func WithProbeRunner(runner ProbeRunner) RegistryOption {
	return func(r *Registry) { r.probeRunner = runner }
}

// WithDetectTimeout overrides the probe timeout.
func WithDetectTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) { r.detectTimeout = timeout }
}

// NewRegistry creates a registry seeded with the built-in adapters.
func NewRegistry(log *logger.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		builtin:       builtinAdapters(),
		custom:        make(map[string]*AdapterConfig),
		probeRunner:   defaultProbeRunner,
		detectTimeout: DefaultDetectTimeout,
		log:           log.WithFields(zap.String("component", "adapter-registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the adapter config for a language, custom registrations
// taking precedence over built-ins.
func (r *Registry) Get(language string) (*AdapterConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.custom[language]; ok {
		return cfg, true
	}
	cfg, ok := r.builtin[language]
	return cfg, ok
}

// Register adds a custom adapter after validating the language id and
// the command against the allow-list. Validation failures happen before
// the config becomes visible.
func (r *Registry) Register(language string, cfg *AdapterConfig) error {
	if !languageIDPattern.MatchString(language) {
		return &InvalidLanguageError{Language: language}
	}
	if err := ValidateCommand(cfg.Command); err != nil {
		return err
	}
	if probeCmd := cfg.Probe.Command; probeCmd != "" {
		if err := ValidateCommand(probeCmd); err != nil {
			return err
		}
	}

	registered := *cfg
	registered.Language = language

	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[language] = &registered

	r.log.Info("Registered custom debug adapter",
		zap.String("language", language),
		zap.String("command", cfg.Command))
	return nil
}

// SupportedLanguages returns the union of built-in and custom language
// ids.
func (r *Registry) SupportedLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.builtin)+len(r.custom))
	result := make([]string, 0, len(r.builtin)+len(r.custom))
	for lang := range r.builtin {
		if _, ok := seen[lang]; !ok {
			seen[lang] = struct{}{}
			result = append(result, lang)
		}
	}
	for lang := range r.custom {
		if _, ok := seen[lang]; !ok {
			seen[lang] = struct{}{}
			result = append(result, lang)
		}
	}
	return result
}

// Detect runs the adapter's detection probe with a bounded timeout.
// The probe is executed as an argument vector, never through a shell.
// Unavailability carries the adapter's install hint as guidance.
func (r *Registry) Detect(ctx context.Context, language string) DetectResult {
	cfg, ok := r.Get(language)
	if !ok {
		return DetectResult{Available: false, Error: fmt.Sprintf("no debug adapter registered for language %q", language)}
	}

	probe := cfg.Probe
	if probe.Command == "" {
		probe = Probe{Command: cfg.Command, Args: []string{"--version"}}
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.detectTimeout)
	defer cancel()

	if err := r.probeRunner(probeCtx, probe.Command, probe.Args); err != nil {
		r.log.Debug("Adapter detection probe failed",
			zap.String("language", language),
			zap.String("probe", probe.Command),
			zap.Error(err))
		return DetectResult{
			Available:   false,
			Error:       err.Error(),
			InstallHint: cfg.InstallHint,
		}
	}
	return DetectResult{Available: true}
}

// ValidateCommand checks a spawn command against the adapter
// allow-list. Also used as the spawn-time revalidation hook, so a
// config tampered with after registration still cannot start an
// arbitrary binary.
func ValidateCommand(command string) error {
	if _, ok := allowedCommands[baseCommandName(command)]; !ok {
		return &dap.DisallowedCommandError{Command: command}
	}
	return nil
}

// baseCommandName strips the path and platform executable suffix.
// Both separators are handled explicitly: a Windows-style command path
// in a shared adapters file must resolve to the same base name on every
// platform, and filepath.Base only splits on the host's separator.
func baseCommandName(command string) string {
	base := command
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	for _, suffix := range executableSuffixes {
		if strings.HasSuffix(strings.ToLower(base), suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return base
}
