// Package config resolves where buildloop works and how it is wired: the
// workspace under construction, the ticket store, and the agent command.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type workspaceKey struct{}

// WithWorkspace stores the workspace path in the context.
func WithWorkspace(ctx context.Context, workspace string) context.Context {
	return context.WithValue(ctx, workspaceKey{}, workspace)
}

// WorkspaceFrom returns the workspace path from the context, if set.
func WorkspaceFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(workspaceKey{})
	s, ok := v.(string)
	return s, ok
}

// MustWorkspaceFrom returns the workspace from the context, or panics if not set.
func MustWorkspaceFrom(ctx context.Context) string {
	if w, ok := WorkspaceFrom(ctx); ok && w != "" {
		return w
	}
	panic("workspace missing from context")
}

// ResolveWorkspace returns the workspace directory (override,
// BUILDLOOP_WORKSPACE, or the current directory).
func ResolveWorkspace(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("BUILDLOOP_WORKSPACE"); env != "" {
		return filepath.Clean(env), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.New("could not determine working directory")
	}
	return wd, nil
}

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Agent configures the external agent binary collaborators run as a
// subprocess.
type Agent struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout Duration `yaml:"timeout"`
	Sandbox bool     `yaml:"sandbox"`
}

// Store selects the ticket persistence backend.
type Store struct {
	Driver string `yaml:"driver"` // json (default), sqlite, postgres
	Path   string `yaml:"path"`   // ticket file or database file
	URL    string `yaml:"url"`    // postgres connection string
}

// Config is the buildloop.yaml file.
type Config struct {
	Store     Store  `yaml:"store"`
	Agent     Agent  `yaml:"agent"`
	RatesFile string `yaml:"ratesFile"`
	Review    bool   `yaml:"review"`
	Test      bool   `yaml:"test"`
	Addr      string `yaml:"addr"`
	APIKey    string `yaml:"apiKey"`
}

// Default returns the configuration used when no buildloop.yaml exists.
func Default(workspace string) Config {
	return Config{
		Store: Store{Driver: "json", Path: filepath.Join(workspace, "tickets.json")},
		Agent: Agent{Timeout: Duration(10 * time.Minute)},
		Addr:  "127.0.0.1:4711",
	}
}

// Load reads buildloop.yaml from the workspace, overlaying it on the
// defaults. A missing file is not an error.
func Load(workspace string) (Config, error) {
	cfg := Default(workspace)
	path := filepath.Join(workspace, "buildloop.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(workspace, "tickets.json")
	}
	if cfg.Agent.Timeout <= 0 {
		cfg.Agent.Timeout = Duration(10 * time.Minute)
	}
	return cfg, nil
}

// Validate reports the first configuration problem, before any ticket is
// touched.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "", "json", "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required")
		}
	case "postgres":
		if c.Store.URL == "" && os.Getenv("DATABASE_URL") == "" {
			return errors.New("store.url or DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Agent.Timeout < 0 {
		return errors.New("agent.timeout must not be negative")
	}
	return nil
}

// ValidateAgent checks that a real run has an agent binary configured. Dry
// runs use stub collaborators and need none.
func (c Config) ValidateAgent(dryRun bool) error {
	if !dryRun && c.Agent.Command == "" {
		return errors.New("agent.command is not configured (set it in buildloop.yaml or pass --dry-run)")
	}
	return nil
}
