package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Load reads a config file, expands environment variables, and unmarshals
// into a Config struct. The format is chosen from the file extension:
// .yaml/.yml, .json, or .ini/.oneshotrc. Unknown keys are rejected in every
// format to catch typos early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return loadJSON(path, expanded)
	case ".ini", ".oneshotrc":
		return loadINI(path, expanded)
	default:
		return loadYAML(path, expanded)
	}
}

func loadYAML(path, expanded string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

func loadJSON(path, expanded string) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(strings.NewReader(expanded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return &cfg, nil
}

func loadINI(path, expanded string) (*Config, error) {
	file, err := ini.Load([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("invalid INI in %s: %w", path, err)
	}

	if err := rejectUnknownINIKeys(file); err != nil {
		return nil, fmt.Errorf("invalid INI in %s: %w", path, err)
	}

	var cfg Config
	if err := file.MapTo(&cfg); err != nil {
		return nil, fmt.Errorf("invalid INI in %s: %w", path, err)
	}

	// ini.MapTo silently skips struct-wrapped fields it cannot map, so the
	// Duration fields are populated by hand from the default section.
	def := file.Section(ini.DefaultSection)
	for key, dst := range map[string]*Duration{
		"initial_timeout":   &cfg.InitialTimeout,
		"max_timeout":       &cfg.MaxTimeout,
		"activity_interval": &cfg.ActivityInterval,
		"idle_threshold":    &cfg.IdleThreshold,
	} {
		if def.HasKey(key) {
			if err := dst.parse(def.Key(key).String()); err != nil {
				return nil, fmt.Errorf("invalid INI in %s: %w", path, err)
			}
		}
	}
	return &cfg, nil
}

// rejectUnknownINIKeys reports an error naming the first key found that
// does not correspond to a known Config or ExecutorConfig field, matching
// the loud-rejection behavior of the YAML (KnownFields) and JSON
// (DisallowUnknownFields) loaders.
func rejectUnknownINIKeys(file *ini.File) error {
	known := map[string]map[string]bool{
		"":         iniFieldNames(Config{}),
		"executor": iniFieldNames(ExecutorConfig{}),
	}

	for _, section := range file.Sections() {
		name := strings.ToLower(section.Name())
		if section.Name() == ini.DefaultSection {
			name = ""
		}
		allowed, ok := known[name]
		if !ok {
			return fmt.Errorf("unknown section %q", section.Name())
		}
		for _, key := range section.Keys() {
			if !allowed[strings.ToLower(key.Name())] {
				return fmt.Errorf("unknown key %q in section %q", key.Name(), section.Name())
			}
		}
	}
	return nil
}

// iniFieldNames returns the set of ini tag names declared on v's exported
// fields, skipping nested-struct fields (those become their own section,
// with Duration the exception since it maps from a plain key) and fields
// tagged "-".
func iniFieldNames(v any) map[string]bool {
	names := make(map[string]bool)
	t := reflect.TypeOf(v)
	durationType := reflect.TypeOf(Duration{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Struct && f.Type != durationType {
			continue
		}
		tag := f.Tag.Get("ini")
		if tag == "" || tag == "-" {
			continue
		}
		names[strings.ToLower(tag)] = true
	}
	return names
}
