// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package settings reads and writes per-module INI configuration.
//
// A module ships its defaults in <ModulesDir>/<module>/configs/module.ini.
// Administrators override them in <ConfigDir>/<module>.local.ini; every
// save keeps the previous override as <module>.local.ini.old.
//
// Saves from one process are serialised. Two processes saving the same
// module concurrently are not coordinated and the last rename wins. A crash
// between the backup and the final rename can leave the override missing
// while the backup holds the previous content.
package settings

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// Section and key names used in module INI files.
const (
	SectionGlobal = "global"

	KeyPiwikURL       = "piwik.url"
	KeyPiwikAPIKey    = "piwik.apikey"
	KeyPiwikID        = "piwik.id"
	KeyIPInfoDBAPIKey = "ipinfodb.apikey"
	KeyReport         = "report"
)

var (
	// ErrConfigParse is returned when a configuration file cannot be parsed.
	ErrConfigParse = errors.New("config parse error")
	// ErrInvalidConfig is returned when a parsed value is out of range.
	ErrInvalidConfig = errors.New("invalid config value")
)

// ModuleConfig is the statistics module configuration.
type ModuleConfig struct {
	PiwikURL       string
	PiwikAPIKey    string
	PiwikID        string
	IPInfoDBAPIKey string
	ReportEnabled  bool
}

// Gateway locates, parses and atomically replaces module INI files.
type Gateway struct {
	configDir  string
	modulesDir string
	mu         sync.Mutex
}

// NewGateway creates a gateway over the override and defaults directories.
func NewGateway(configDir, modulesDir string) *Gateway {
	return &Gateway{configDir: configDir, modulesDir: modulesDir}
}

// LocalPath returns the override file path for module.
func (g *Gateway) LocalPath(module string) string {
	return filepath.Join(g.configDir, module+".local.ini")
}

// BackupPath returns the path the previous override is kept at.
func (g *Gateway) BackupPath(module string) string {
	return g.LocalPath(module) + ".old"
}

// DefaultPath returns the shipped defaults file path for module.
func (g *Gateway) DefaultPath(module string) string {
	return filepath.Join(g.modulesDir, module, "configs", "module.ini")
}

// Load reads the override file if present, else the shipped defaults.
func (g *Gateway) Load(module string) (ModuleConfig, error) {
	f, _, err := g.source(module)
	if err != nil {
		return ModuleConfig{}, err
	}
	return decode(f)
}

// Save writes cfg as the new override for module. Keys and sections not
// managed by ModuleConfig are carried over from the current source file.
func (g *Gateway) Save(module string, cfg ModuleConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, _, err := g.source(module)
	if errors.Is(err, os.ErrNotExist) {
		f = ini.Empty()
	} else if err != nil {
		return err
	}
	encode(f, cfg)

	if err := os.MkdirAll(g.configDir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp, err := os.CreateTemp(g.configDir, module+".local.ini.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting config permissions: %w", err)
	}

	local, backup := g.LocalPath(module), g.BackupPath(module)
	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing config backup: %w", err)
	}
	if err := os.Rename(local, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backing up config: %w", err)
	}
	if err := os.Rename(tmpPath, local); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	committed = true
	return nil
}

// source parses the file Load would read and returns it with its path.
// The error wraps os.ErrNotExist when neither file exists.
func (g *Gateway) source(module string) (*ini.File, string, error) {
	path := g.LocalPath(module)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = g.DefaultPath(module)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("reading %s: %w", path, err)
	}

	f, err := ini.LoadSources(ini.LoadOptions{SpaceBeforeInlineComment: true}, data)
	if err != nil {
		return nil, path, fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	return f, path, nil
}

func decode(f *ini.File) (ModuleConfig, error) {
	sec := f.Section(SectionGlobal)
	report, err := ParseReport(sec.Key(KeyReport).String())
	if err != nil {
		return ModuleConfig{}, err
	}
	return ModuleConfig{
		PiwikURL:       sec.Key(KeyPiwikURL).String(),
		PiwikAPIKey:    sec.Key(KeyPiwikAPIKey).String(),
		PiwikID:        sec.Key(KeyPiwikID).String(),
		IPInfoDBAPIKey: sec.Key(KeyIPInfoDBAPIKey).String(),
		ReportEnabled:  report,
	}, nil
}

func encode(f *ini.File, cfg ModuleConfig) {
	sec := f.Section(SectionGlobal)
	sec.Key(KeyPiwikURL).SetValue(cfg.PiwikURL)
	sec.Key(KeyPiwikAPIKey).SetValue(cfg.PiwikAPIKey)
	sec.Key(KeyPiwikID).SetValue(cfg.PiwikID)
	sec.Key(KeyIPInfoDBAPIKey).SetValue(cfg.IPInfoDBAPIKey)
	sec.Key(KeyReport).SetValue(FormatReport(cfg.ReportEnabled))
}

// ParseReport converts the report flag. Empty means disabled.
func ParseReport(v string) (bool, error) {
	switch strings.TrimSpace(v) {
	case "1":
		return true, nil
	case "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: report must be 0 or 1, got %q", ErrInvalidConfig, v)
	}
}

// FormatReport renders the report flag as stored in INI files.
func FormatReport(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}

// ValidatePiwikURL accepts an empty value or an absolute http(s) URL.
func ValidatePiwikURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: piwik url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: piwik url must use http or https", ErrInvalidConfig)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: piwik url must include a host", ErrInvalidConfig)
	}
	return nil
}
