package config

import (
	"fmt"
	"time"
)

// Config represents an oneshot config file (YAML, JSON, or INI). All values
// are optional and act as defaults for the CLI flags of the same name; CLI
// flags always override config-file values. max_concurrent and
// idle_threshold are parsed, but no CLI reads them from the config file.
// Unknown keys are rejected in
// every format so a typo fails loudly instead of silently defaulting.
type Config struct {
	MaxIterations int            `yaml:"max_iterations" json:"max_iterations" ini:"max_iterations"`
	Executor      ExecutorConfig `yaml:"executor" json:"executor" ini:"executor"`
	WorkerModel   string         `yaml:"worker_model" json:"worker_model" ini:"worker_model"`
	AuditorModel  string         `yaml:"auditor_model" json:"auditor_model" ini:"auditor_model"`

	InitialTimeout   Duration `yaml:"initial_timeout" json:"initial_timeout" ini:"initial_timeout"`
	MaxTimeout       Duration `yaml:"max_timeout" json:"max_timeout" ini:"max_timeout"`
	ActivityInterval Duration `yaml:"activity_interval" json:"activity_interval" ini:"activity_interval"`

	Resume     bool   `yaml:"resume" json:"resume" ini:"resume"`
	Session    string `yaml:"session" json:"session" ini:"session"`
	SessionLog string `yaml:"session_log" json:"session_log" ini:"session_log"`
	KeepLog    bool   `yaml:"keep_log" json:"keep_log" ini:"keep_log"`

	MaxConcurrent int      `yaml:"max_concurrent" json:"max_concurrent" ini:"max_concurrent"`
	IdleThreshold Duration `yaml:"idle_threshold" json:"idle_threshold" ini:"idle_threshold"`
}

// ExecutorConfig is the provider-style (endpoint+key) executor
// configuration. There is no legacy model-string configuration path; only
// the provider shape is carried.
type ExecutorConfig struct {
	// Kind selects the executor variant: "subprocess" or "direct_http".
	Kind string `yaml:"kind" json:"kind" ini:"kind"`
	// Name identifies the executor (e.g. "claude_code", "aider").
	Name string `yaml:"name" json:"name" ini:"name"`

	// Subprocess fields.
	BinaryPath string   `yaml:"binary_path,omitempty" json:"binary_path,omitempty" ini:"binary_path"`
	Args       []string `yaml:"args,omitempty" json:"args,omitempty" ini:"args"`
	WorkDir    string   `yaml:"work_dir,omitempty" json:"work_dir,omitempty" ini:"work_dir"`

	// Direct-HTTP fields.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" ini:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty" ini:"api_key"`
}

// Duration wraps time.Duration for human-readable config strings such as
// "10s" or "5m30s", with support for YAML, JSON, and INI unmarshaling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON parses a duration string like "10s" or "5m30s" from a JSON
// string value.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	// Strip surrounding quotes from the JSON string encoding.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return d.parse(s)
}

// UnmarshalText parses a duration string from any text-based decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(s string) error {
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
