// Package config loads the daemon's settings: hard-coded defaults
// layered under an optional YAML file, the way the teacher layers its
// targets.yaml over built-in defaults (pkg/obsidian/targets.go).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memsearchd/memsearchd/internal/ipc"
	"github.com/memsearchd/memsearchd/internal/search"
)

// Config is the full set of daemon-tunable knobs. Socket paths and the
// wire format itself are part of the contract with existing clients
// (spec section 6) and are overridable only for operators who also
// control every client that connects.
type Config struct {
	RequestSocketPath      string `yaml:"request_socket_path,omitempty"`
	ResponseSocketDir      string `yaml:"response_socket_dir,omitempty"`
	ResponseSocketTemplate string `yaml:"response_socket_template,omitempty"`
	LockPath               string `yaml:"lock_path,omitempty"`

	HandshakeTimeoutMS  int `yaml:"handshake_timeout_ms,omitempty"`
	MaxResultsRaw       int `yaml:"max_results_raw,omitempty"`
	MaxResultsFormatted int `yaml:"max_results_formatted,omitempty"`

	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes,omitempty"`
	CoalesceWindowMS int   `yaml:"coalesce_window_ms,omitempty"`

	// RepoIdleGraceMS delays a Repository's teardown after its last
	// client releases it (spec section 3's optional idle-timeout
	// policy). Zero means the default: destroy immediately.
	RepoIdleGraceMS int `yaml:"repo_idle_grace_ms,omitempty"`
}

// Default64MiB is the default per-file mapping ceiling (spec section 5).
const Default64MiB = 64 * 1024 * 1024

// Default returns the daemon's out-of-the-box configuration.
func Default() Config {
	ipcDefaults := ipc.DefaultConfig()
	return Config{
		RequestSocketPath:      ipcDefaults.RequestSocketPath,
		ResponseSocketDir:      ipcDefaults.ResponseSocketDir,
		ResponseSocketTemplate: ipcDefaults.ResponseSocketTemplate,
		LockPath:               ipcDefaults.LockPath,
		HandshakeTimeoutMS:     ipcDefaults.HandshakeTimeoutMS,
		MaxResultsRaw:          search.DefaultMaxResults,
		MaxResultsFormatted:    search.DefaultFormattedMaxResults,
		MaxFileSizeBytes:       Default64MiB,
		CoalesceWindowMS:       50,
		RepoIdleGraceMS:        0,
	}
}

// Load builds a Config by layering an optional YAML file over the
// defaults. A missing path is not an error: the daemon runs on defaults
// alone (mirrors the teacher's readCliConfig(allowMissing=true)).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// IPCConfig projects the subset of Config the IpcMultiplexer needs.
func (c Config) IPCConfig() ipc.Config {
	return ipc.Config{
		RequestSocketPath:      c.RequestSocketPath,
		ResponseSocketDir:      c.ResponseSocketDir,
		ResponseSocketTemplate: c.ResponseSocketTemplate,
		LockPath:               c.LockPath,
		HandshakeTimeoutMS:     c.HandshakeTimeoutMS,
		MaxResultsRaw:          c.MaxResultsRaw,
	}
}

// CoalesceWindow is the watcher's debounce interval as a time.Duration.
func (c Config) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMS) * time.Millisecond
}

// RepoIdleGrace is the registry's idle-teardown grace period.
func (c Config) RepoIdleGrace() time.Duration {
	return time.Duration(c.RepoIdleGraceMS) * time.Millisecond
}
