/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package config loads the per-user YAML configuration and applies VNF_*
// environment overrides on top of it. Secrets never touch the file; the
// archive password lives in the OS keychain.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	applog "vnforge/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.
type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	General       GeneralConfig  `yaml:"general"`
	Compiler      CompilerConfig `yaml:"compiler"`
	Export        ExportConfig   `yaml:"export"`
	Archive       ArchiveConfig  `yaml:"archive"`
	Logging       LoggingConfig  `yaml:"logging"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	TelemetryURL   string `yaml:"telemetry_url"`
}

type CompilerConfig struct {
	DispatchLabel string `yaml:"dispatch_label"`
	Indent        int    `yaml:"indent"`
	// KindsFile replaces the built-in kind catalog when set.
	KindsFile  string `yaml:"kinds_file"`
	OmitHeader bool   `yaml:"omit_header"`
}

type ExportConfig struct {
	ScriptName string `yaml:"script_name"`
	Workers    int    `yaml:"workers"`
	PDFProof   bool   `yaml:"pdf_proof"`
}

type ArchiveConfig struct {
	// DSN is a Postgres connection string without password.
	DSN       string `yaml:"dsn"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Compiler:      CompilerConfig{DispatchLabel: "start", Indent: 4},
		Export:        ExportConfig{ScriptName: "script.rpy", Workers: 4},
		Archive:       ArchiveConfig{TimeoutMs: 15000},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath     = "VNF_CONFIG"
	EnvTelemetryOptIn = "VNF_TELEMETRY_OPT_IN"
	EnvTelemetryURL   = "VNF_TELEMETRY_URL"
	EnvDispatchLabel  = "VNF_DISPATCH_LABEL"
	EnvIndent         = "VNF_INDENT"
	EnvKindsFile      = "VNF_KINDS_FILE"
	EnvScriptName     = "VNF_SCRIPT_NAME"
	EnvExportWorkers  = "VNF_EXPORT_WORKERS"
	EnvExportPDF      = "VNF_EXPORT_PDF"
	EnvArchiveDSN     = "VNF_ARCHIVE_DSN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "VNF_LOG_LEVEL"
	EnvLogFormat = "VNF_LOG_FORMAT"
	EnvLogSource = "VNF_LOG_SOURCE"
	EnvLogFile   = "VNF_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService     = "vnforge"
	keyringArchivePass = "archive_password"
)

// TokenStore abstracts the OS keyring so tests can swap it.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// KeyringStore implements TokenStore with github.com/zalando/go-keyring.
type KeyringStore struct{}

func (KeyringStore) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (KeyringStore) Set(service, key, value string) error { return keyring.Set(service, key, value) }
func (KeyringStore) Delete(service, key string) error { return keyring.Delete(service, key) }

var tokenStore TokenStore = KeyringStore{}

// SetTokenStore replaces the keyring backend and returns a func restoring the previous one.
func SetTokenStore(ts TokenStore) (restore func()) {
	prev := tokenStore
	tokenStore = ts
	return func() { tokenStore = prev }
}

// ConfigPath returns the per-user config file path. VNF_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "vnforge")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "vnforge")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "vnforge")
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".config", "vnforge")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// The archive password is read from the keyring and returned separately; a missing entry yields "".
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	pw, err := tokenStore.Get(keyringService, keyringArchivePass)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		applog.WithComponent("config").Debug("keyring unavailable", "err", err)
	}
	return cfg, pw, nil
}

// Save writes the user config YAML and persists the archive password into the OS keyring (if non-empty).
func Save(cfg AppConfig, archivePassword string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if archivePassword != "" {
		if err := tokenStore.Set(keyringService, keyringArchivePass, archivePassword); err != nil {
			return fmt.Errorf("store archive password: %w", err)
		}
	}
	return nil
}

// ForgetArchivePassword removes the stored archive password.
func ForgetArchivePassword() error {
	err := tokenStore.Delete(keyringService, keyringArchivePass)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// LogOptions converts the logging section for applog.Init.
func (c AppConfig) LogOptions() applog.Options {
	return applog.Options{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.Source,
		File:      c.Logging.File,
	}
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if s := strings.TrimSpace(src.General.TelemetryURL); s != "" {
		dst.General.TelemetryURL = s
	}
	// compiler
	if s := strings.TrimSpace(src.Compiler.DispatchLabel); s != "" {
		dst.Compiler.DispatchLabel = s
	}
	if src.Compiler.Indent > 0 {
		dst.Compiler.Indent = src.Compiler.Indent
	}
	if s := strings.TrimSpace(src.Compiler.KindsFile); s != "" {
		dst.Compiler.KindsFile = s
	}
	dst.Compiler.OmitHeader = src.Compiler.OmitHeader
	// export
	if s := strings.TrimSpace(src.Export.ScriptName); s != "" {
		dst.Export.ScriptName = s
	}
	if src.Export.Workers > 0 {
		dst.Export.Workers = src.Export.Workers
	}
	dst.Export.PDFProof = src.Export.PDFProof
	// archive
	if s := strings.TrimSpace(src.Archive.DSN); s != "" {
		dst.Archive.DSN = s
	}
	if src.Archive.TimeoutMs > 0 {
		dst.Archive.TimeoutMs = src.Archive.TimeoutMs
	}
	// logging
	if s := strings.TrimSpace(src.Logging.Level); s != "" {
		dst.Logging.Level = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Logging.Format); s != "" {
		dst.Logging.Format = strings.ToLower(s)
	}
	dst.Logging.Source = src.Logging.Source
	if s := strings.TrimSpace(src.Logging.File); s != "" {
		dst.Logging.File = s
	}
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryURL)); v != "" {
		cfg.General.TelemetryURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDispatchLabel)); v != "" {
		cfg.Compiler.DispatchLabel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIndent)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Compiler.Indent = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvKindsFile)); v != "" {
		cfg.Compiler.KindsFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvScriptName)); v != "" {
		cfg.Export.ScriptName = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportWorkers)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Export.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportPDF)); v != "" {
		cfg.Export.PDFProof = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvArchiveDSN)); v != "" {
		cfg.Archive.DSN = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.telemetry_url":    EnvTelemetryURL,
	"compiler.dispatch_label":  EnvDispatchLabel,
	"compiler.indent":          EnvIndent,
	"compiler.kinds_file":      EnvKindsFile,
	"export.script_name":       EnvScriptName,
	"export.workers":           EnvExportWorkers,
	"export.pdf_proof":         EnvExportPDF,
	"archive.dsn":              EnvArchiveDSN,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// Keys lists the config keys that can be overridden from the environment, sorted.
func Keys() []string {
	return slices.Sorted(maps.Keys(envKeys))
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}
