package adapters

// builtinAdapters returns the immutable built-in adapter catalogue.
// Keys are language ids as exposed to the UI boundary.
func builtinAdapters() map[string]*AdapterConfig {
	node := &AdapterConfig{
		Language: "node",
		Command:  "js-debug-adapter",
		LaunchArgs: func(p LaunchParams) map[string]any {
			args := map[string]any{
				"type":        "pwa-node",
				"request":     "launch",
				"program":     p.Program,
				"cwd":         p.Cwd,
				"stopOnEntry": p.StopOnEntry,
				"console":     "internalConsole",
			}
			if len(p.Args) > 0 {
				args["args"] = p.Args
			}
			if len(p.Env) > 0 {
				args["env"] = p.Env
			}
			return args
		},
		AttachArgs: func(p LaunchParams) map[string]any {
			return map[string]any{
				"type":    "pwa-node",
				"request": "attach",
				"port":    p.Port,
				"host":    p.Host,
			}
		},
		Probe:       Probe{Command: "js-debug-adapter", Args: []string{"--version"}},
		InstallHint: "npm install -g @vscode/js-debug or install the js-debug-adapter package for your platform",
	}

	python := &AdapterConfig{
		Language: "python",
		Command:  "python3",
		Args:     []string{"-m", "debugpy.adapter"},
		LaunchArgs: func(p LaunchParams) map[string]any {
			args := map[string]any{
				"type":        "python",
				"request":     "launch",
				"program":     p.Program,
				"cwd":         p.Cwd,
				"stopOnEntry": p.StopOnEntry,
				"console":     "internalConsole",
				"justMyCode":  true,
			}
			if len(p.Args) > 0 {
				args["args"] = p.Args
			}
			if len(p.Env) > 0 {
				args["env"] = p.Env
			}
			return args
		},
		AttachArgs: func(p LaunchParams) map[string]any {
			return map[string]any{
				"type":    "python",
				"request": "attach",
				"connect": map[string]any{"host": p.Host, "port": p.Port},
			}
		},
		Probe:       Probe{Command: "python3", Args: []string{"-c", "import debugpy"}},
		InstallHint: "pip install debugpy",
	}

	golang := &AdapterConfig{
		Language: "go",
		Command:  "dlv",
		Args:     []string{"dap"},
		LaunchArgs: func(p LaunchParams) map[string]any {
			args := map[string]any{
				"request":     "launch",
				"mode":        "debug",
				"program":     p.Program,
				"cwd":         p.Cwd,
				"stopOnEntry": p.StopOnEntry,
			}
			if len(p.Args) > 0 {
				args["args"] = p.Args
			}
			return args
		},
		AttachArgs: func(p LaunchParams) map[string]any {
			return map[string]any{
				"request": "attach",
				"mode":    "local",
				"port":    p.Port,
			}
		},
		Probe:       Probe{Command: "dlv", Args: []string{"version"}},
		InstallHint: "go install github.com/go-delve/delve/cmd/dlv@latest",
	}

	return map[string]*AdapterConfig{
		"node":       node,
		"javascript": node,
		"python":     python,
		"go":         golang,
	}
}
