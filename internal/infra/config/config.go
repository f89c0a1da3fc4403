package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"inkdesk/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Tools     ToolsConfig     `yaml:"tools"`
	Export    ExportConfig    `yaml:"export"`
	Publish   PublishConfig   `yaml:"publish"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// WorkspaceConfig identifies the workspace the engine may touch.
type WorkspaceConfig struct {
	Root     string                   `yaml:"root"`
	Platform string                   `yaml:"platform"` // "desktop" or "mobile"
	Settings domain.WorkspaceSettings `yaml:"settings"`
}

// ToolsConfig holds per-tool limits and credentials.
type ToolsConfig struct {
	ReadMaxChars     int           `yaml:"read_max_chars"`     // per fs_read call
	SearchMaxHits    int           `yaml:"search_max_hits"`    // per fs_search call
	FetchMaxChars    int           `yaml:"fetch_max_chars"`    // per web_fetch call
	ShellMaxChars    int           `yaml:"shell_max_chars"`    // per shell_run output stream
	ShellTimeout     time.Duration `yaml:"-"`                  // per shell_run call
	WatcherGrace     time.Duration `yaml:"-"`                  // lock hold after write
	TabOpenTimeout   time.Duration `yaml:"-"`                  // canvas tab switch
	AskUserTimeout   time.Duration `yaml:"-"`                  // blocking question
	ImageSearchKey   string        `yaml:"image_search_key"`   // stock image API key
	ImageProbeWait   time.Duration `yaml:"-"`                  // dimension probe timeout
	NetRatePerMinute int           `yaml:"net_rate_per_minute"` // network tool rate limit
}

// UnmarshalYAML accepts durations in Go syntax ("10s", "150ms"), which
// yaml.v3 does not decode into time.Duration on its own.
func (c *ToolsConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ToolsConfig
	aux := struct {
		plain          `yaml:",inline"`
		ShellTimeout   string `yaml:"shell_timeout"`
		WatcherGrace   string `yaml:"watcher_grace"`
		TabOpenTimeout string `yaml:"tab_open_timeout"`
		AskUserTimeout string `yaml:"ask_user_timeout"`
		ImageProbeWait string `yaml:"image_probe_wait"`
	}{plain: plain(*c)}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*c = ToolsConfig(aux.plain)

	for _, d := range []struct {
		raw  string
		into *time.Duration
	}{
		{aux.ShellTimeout, &c.ShellTimeout},
		{aux.WatcherGrace, &c.WatcherGrace},
		{aux.TabOpenTimeout, &c.TabOpenTimeout},
		{aux.AskUserTimeout, &c.AskUserTimeout},
		{aux.ImageProbeWait, &c.ImageProbeWait},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.into = parsed
	}
	return nil
}

// ExportConfig holds the export job definitions.
type ExportConfig struct {
	Jobs []domain.ExportJob `yaml:"jobs"`
}

// PublishConfig holds settings for the deployment REST API.
type PublishConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{Platform: "desktop"},
		Tools: ToolsConfig{
			ReadMaxChars:     20000,
			SearchMaxHits:    50,
			FetchMaxChars:    20000,
			ShellMaxChars:    8000,
			ShellTimeout:     60 * time.Second,
			WatcherGrace:     150 * time.Millisecond,
			TabOpenTimeout:   5 * time.Second,
			AskUserTimeout:   5 * time.Minute,
			ImageProbeWait:   3 * time.Second,
			NetRatePerMinute: 30,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	switch c.Workspace.Platform {
	case "desktop", "mobile":
	default:
		return fmt.Errorf("workspace.platform must be \"desktop\" or \"mobile\", got %q", c.Workspace.Platform)
	}
	if len(c.Workspace.Settings.QuickActions) > domain.MaxQuickActions {
		return fmt.Errorf("workspace.settings.quick_actions: at most %d allowed", domain.MaxQuickActions)
	}
	seen := make(map[string]bool, len(c.Export.Jobs))
	for _, job := range c.Export.Jobs {
		if job.Name == "" {
			return fmt.Errorf("export.jobs: job name is required")
		}
		if seen[job.Name] {
			return fmt.Errorf("export.jobs: duplicate job %q", job.Name)
		}
		seen[job.Name] = true
	}
	return nil
}
