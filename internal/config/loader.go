package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values after loading.
const (
	EnvStoreDSN   = "VOTEVOICE_STORE_DSN"
	EnvAdminEmail = "VOTEVOICE_ADMIN_EMAIL"
	EnvAdminToken = "VOTEVOICE_ADMIN_TOKEN"
)

// Load reads the YAML file at path on top of [Default], applies the
// environment overrides found by env (nil skips them) and validates the
// result.
func Load(path string, env func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if env != nil {
		overrideEnv(cfg, env)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r with [Parse] and validates it.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of [Default] without validating it.
// Unknown keys are rejected. An empty document yields the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the variables found by lookup (usually
// os.LookupEnv) and re-validates it.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	overrideEnv(cfg, lookup)
	return Validate(cfg)
}

func overrideEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		cfg.Store.DSN = v
	}
	if v, ok := lookup(EnvAdminEmail); ok && v != "" {
		cfg.Election.AdminEmail = v
	}
	if v, ok := lookup(EnvAdminToken); ok && v != "" {
		cfg.Server.AdminToken = v
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Store
	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: %v", cfg.Store.Backend, Backends))
	} else if cfg.Store.Backend.NeedsDSN() && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for backend %q", cfg.Store.Backend))
	}

	// Blob
	if cfg.Blob.Dir == "" {
		errs = append(errs, errors.New("blob.dir is required"))
	}

	// Dialogue
	d := cfg.Dialogue
	if d.MaxRetries < 1 || d.MaxRetries > 5 {
		errs = append(errs, fmt.Errorf("dialogue.max_retries %d is out of range [1, 5]", d.MaxRetries))
	}
	if d.MaxAlternatives < 1 {
		errs = append(errs, fmt.Errorf("dialogue.max_alternatives %d must be at least 1", d.MaxAlternatives))
	}
	if d.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialogue.write_timeout %s must not be negative", d.WriteTimeout))
	}
	if d.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_upload_bytes %d must not be negative", d.MaxUploadBytes))
	}

	// Election
	e := cfg.Election
	if e.AdminEmail != "" && !strings.Contains(e.AdminEmail, "@") {
		errs = append(errs, fmt.Errorf("election.admin_email %q is not an email address", e.AdminEmail))
	}
	errs = append(errs, checkNames("election.positions", e.Positions)...)
	errs = append(errs, checkNames("election.report_categories", e.ReportCategories)...)

	return errors.Join(errs...)
}

// checkNames rejects blank and case-insensitively duplicated entries.
func checkNames(key string, names []string) []error {
	var errs []error
	seen := make(map[string]int, len(names))
	for i, n := range names {
		k := strings.ToLower(strings.TrimSpace(n))
		if k == "" {
			errs = append(errs, fmt.Errorf("%s[%d] is empty", key, i))
			continue
		}
		if prev, ok := seen[k]; ok {
			errs = append(errs, fmt.Errorf("%s[%d] %q is a duplicate of %s[%d]", key, i, n, key, prev))
			continue
		}
		seen[k] = i
	}
	return errs
}
