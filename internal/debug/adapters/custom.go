package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// customFile is the on-disk format for user-supplied adapter
// registrations.
type customFile struct {
	Adapters []customAdapter `yaml:"adapters"`
}

type customAdapter struct {
	Language    string         `yaml:"language"`
	Command     string         `yaml:"command"`
	Args        []string       `yaml:"args"`
	Launch      map[string]any `yaml:"launch"`
	Attach      map[string]any `yaml:"attach"`
	Probe       customProbe    `yaml:"probe"`
	InstallHint string         `yaml:"install_hint"`
}

type customProbe struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// LoadCustomFile registers every adapter declared in a YAML file.
// Individual invalid entries are skipped with a warning; a missing file
// is not an error.
func (r *Registry) LoadCustomFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read adapters file: %w", err)
	}

	var file customFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse adapters file %s: %w", path, err)
	}

	loaded := 0
	for _, entry := range file.Adapters {
		cfg := entry.toConfig()
		if err := r.Register(entry.Language, cfg); err != nil {
			r.log.Warn("Skipping invalid custom adapter",
				zap.String("language", entry.Language),
				zap.Error(err))
			continue
		}
		loaded++
	}

	r.log.Info("Loaded custom adapters file",
		zap.String("path", path),
		zap.Int("adapters", loaded))
	return nil
}

// toConfig builds an AdapterConfig whose argument builders merge the
// static launch/attach templates with per-session parameters.
func (e customAdapter) toConfig() *AdapterConfig {
	launchTemplate := e.Launch
	attachTemplate := e.Attach

	cfg := &AdapterConfig{
		Language: e.Language,
		Command:  e.Command,
		Args:     append([]string(nil), e.Args...),
		LaunchArgs: func(p LaunchParams) map[string]any {
			return mergeTemplate(launchTemplate, p, "launch")
		},
		Probe:       Probe{Command: e.Probe.Command, Args: append([]string(nil), e.Probe.Args...)},
		InstallHint: e.InstallHint,
	}
	if attachTemplate != nil {
		cfg.AttachArgs = func(p LaunchParams) map[string]any {
			return mergeTemplate(attachTemplate, p, "attach")
		}
	}
	return cfg
}

func mergeTemplate(template map[string]any, p LaunchParams, request string) map[string]any {
	args := map[string]any{
		"request":     request,
		"program":     p.Program,
		"cwd":         p.Cwd,
		"stopOnEntry": p.StopOnEntry,
	}
	if len(p.Args) > 0 {
		args["args"] = p.Args
	}
	if len(p.Env) > 0 {
		args["env"] = p.Env
	}
	if p.Port != 0 {
		args["port"] = p.Port
	}
	// Static template entries win over the derived defaults.
	for key, value := range template {
		args[key] = value
	}
	return args
}

// WatchCustomFile reloads the adapters file whenever it changes, until
// ctx is cancelled. Reload failures are logged and the previous
// registrations stay in effect.
func (r *Registry) WatchCustomFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the directory: editors commonly replace files on save,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.LoadCustomFile(path); err != nil {
					r.log.Warn("Failed to reload adapters file", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn("Adapters file watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
