// Package config loads and saves the gateway's on-disk TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

// PortForwardingConfig controls direct-tcpip and tcpip-forward policy.
type PortForwardingConfig struct {
	AllowLocal              bool `toml:"allow_local"`
	AllowRemote             bool `toml:"allow_remote"`
	AllowGatewayPorts       bool `toml:"allow_gateway_ports"`
	AllowNonlocalDestinations bool `toml:"allow_nonlocal_destinations"`
}

// ContainerSecurityConfig controls the hardening applied to every workspace
// container.
type ContainerSecurityConfig struct {
	CapDropAll       bool     `toml:"cap_drop_all"`
	CapAdd           []string `toml:"cap_add"`
	NoNewPrivileges  bool     `toml:"no_new_privileges"`
	ReadonlyRootfs   bool     `toml:"readonly_rootfs"`
	MemoryLimit      string   `toml:"memory_limit"`
	CPULimit         float64  `toml:"cpu_limit"`
	UseSeccomp       bool     `toml:"use_seccomp"`
}

// GatewayConfig is the full on-disk configuration document.
type GatewayConfig struct {
	ListenAddr            string   `toml:"listen_addr"`
	DockerImage           string   `toml:"docker_image"`
	WorkspaceRoot         string   `toml:"workspace_root"`
	StateFile             string   `toml:"state_file"`
	HostKeyPath           string   `toml:"host_key_path"`
	BootstrapIdentities   []string `toml:"bootstrap_github_users"`

	// IdentityProviderHost is the key-publishing host queried as
	// https://<host>/<identity>.keys to resolve an offered key to an identity.
	IdentityProviderHost string `toml:"identity_provider_host"`

	// TmuxMode, when true, wraps the shell recipe in a tmux attach-or-create
	// for PTY shell requests, so a dropped connection can be resumed.
	TmuxMode bool `toml:"tmux_mode"`

	// SessionRecordingEnabled turns on fernet-encrypted transcript capture
	// for Session-kind exec bridges. Not present in the original; additive.
	SessionRecordingEnabled bool   `toml:"session_recording_enabled"`
	RecordingDir            string `toml:"recording_dir"`

	// AdminListenAddr, if non-empty, binds the supplemental operator status
	// API (internal/adminapi). Empty disables it.
	AdminListenAddr string `toml:"admin_listen_addr"`

	// OrchestratorBackend selects "docker", "kubernetes", or "auto".
	OrchestratorBackend string `toml:"orchestrator_backend"`
	KubernetesNamespace string `toml:"kubernetes_namespace"`

	PortForwarding     PortForwardingConfig    `toml:"port_forwarding"`
	ContainerSecurity  ContainerSecurityConfig `toml:"container_security"`
}

// Default returns the gateway's default configuration, mirroring the
// original implementation's defaults.
func Default() *GatewayConfig {
	return &GatewayConfig{
		ListenAddr:          "0.0.0.0:2222",
		DockerImage:         "agentman-base:dev",
		WorkspaceRoot:       "/var/lib/agentman/workspaces",
		StateFile:           "/var/lib/agentman/state.json",
		HostKeyPath:         "/var/lib/agentman/ssh_host_key",
		BootstrapIdentities: nil,
		IdentityProviderHost: "github.com",
		TmuxMode:            true,
		SessionRecordingEnabled: false,
		RecordingDir:            "/var/lib/agentman/recordings",
		AdminListenAddr:         "",
		OrchestratorBackend:     "auto",
		KubernetesNamespace:     "agentman",
		PortForwarding: PortForwardingConfig{
			AllowLocal:                true,
			AllowRemote:               true,
			AllowGatewayPorts:         false,
			AllowNonlocalDestinations: false,
		},
		ContainerSecurity: ContainerSecurityConfig{
			CapDropAll:      true,
			CapAdd:          []string{"CHOWN", "DAC_OVERRIDE", "FOWNER", "SETGID", "SETUID"},
			NoNewPrivileges: true,
			ReadonlyRootfs:  false,
			MemoryLimit:     "4g",
			CPULimit:        2.0,
			UseSeccomp:      true,
		},
	}
}

// Load reads the TOML document at path, falling back to defaults for any
// field the document omits. A missing file is not an error: Load returns
// Default().
func Load(path string) (*GatewayConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but never returns an error: on any read or
// parse failure it logs nothing and returns Default() alone, discarding the
// error and anything that did parse.
func LoadOrDefault(path string) *GatewayConfig {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save serializes the configuration as TOML to path, creating parent
// directories as needed.
func (c *GatewayConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// EnsureDirs creates the workspace root and the parent directories of the
// state file, host key path, and (when enabled) the recording directory.
func (c *GatewayConfig) EnsureDirs() error {
	dirs := []string{c.WorkspaceRoot, filepath.Dir(c.StateFile), filepath.Dir(c.HostKeyPath)}
	if c.SessionRecordingEnabled {
		dirs = append(dirs, c.RecordingDir)
	}
	for _, p := range dirs {
		if p == "" || p == "." {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", p, err)
		}
	}
	return nil
}

// WorkspacePath returns the host directory backing (identity, project).
func (c *GatewayConfig) WorkspacePath(identity, project string) string {
	return filepath.Join(c.WorkspaceRoot, identity, project)
}
