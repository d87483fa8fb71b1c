package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"report-export/assemble"
	"report-export/export"
)

const (
	configDir    = "config"
	settingsFile = "settings.json"
)

var (
	settings      Settings
	settingsMutex sync.RWMutex
)

func defaultSettings() Settings {
	opts := export.DefaultOptions()
	return Settings{
		PageWidth:        opts.PageWidth,
		PageHeight:       opts.PageHeight,
		MaxAttempts:      opts.MaxAttempts,
		TimeoutMs:        int(opts.PerAttemptTimeout / time.Millisecond),
		SettleMs:         int(opts.SettleDelay / time.Millisecond),
		RelayEndpoints:   slices.Clone(relayEndpointsFromEnv()),
		FileNameTemplate: opts.FileNameTemplate,
		IndexTitle:       assemble.DefaultIndexTitle,
	}
}

// currentSettings returns a copy of the active settings.
func currentSettings() Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	s := settings
	s.RelayEndpoints = slices.Clone(settings.RelayEndpoints)
	return s
}

// Options converts the settings into export options.
func (s Settings) Options() export.Options {
	return export.Options{
		PageWidth:         s.PageWidth,
		PageHeight:        s.PageHeight,
		MaxAttempts:       s.MaxAttempts,
		PerAttemptTimeout: time.Duration(s.TimeoutMs) * time.Millisecond,
		SettleDelay:       time.Duration(s.SettleMs) * time.Millisecond,
		Origin:            surfaceOrigin,
		FileNameTemplate:  s.FileNameTemplate,
		IndexTitle:        s.IndexTitle,
	}.WithDefaults()
}

// Apply returns the settings with a request's overrides in place.
func (s Settings) Apply(o *ExportOverride) Settings {
	if o == nil {
		return s
	}
	if o.PageWidth != nil {
		s.PageWidth = *o.PageWidth
	}
	if o.PageHeight != nil {
		s.PageHeight = *o.PageHeight
	}
	if o.MaxAttempts != nil {
		s.MaxAttempts = *o.MaxAttempts
	}
	if o.TimeoutMs != nil {
		s.TimeoutMs = *o.TimeoutMs
	}
	if o.SettleMs != nil {
		s.SettleMs = *o.SettleMs
	}
	if o.FileNameTemplate != nil {
		s.FileNameTemplate = *o.FileNameTemplate
	}
	if o.IndexTitle != nil {
		s.IndexTitle = *o.IndexTitle
	}
	return s
}

// Validate rejects settings no export could succeed with.
func (s Settings) Validate() error {
	if s.PageWidth <= 0 || s.PageHeight <= 0 {
		return fmt.Errorf("page size must be positive, got %vx%v", s.PageWidth, s.PageHeight)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", s.TimeoutMs)
	}
	if s.SettleMs < 0 {
		return fmt.Errorf("settle_ms must not be negative, got %d", s.SettleMs)
	}
	for _, e := range s.RelayEndpoints {
		if !strings.Contains(e, "{url}") {
			return fmt.Errorf("relay endpoint %q has no {url} placeholder", e)
		}
	}
	return nil
}

// saveSettings saves the current settings to the settings.json file.
func saveSettings() error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	return saveSettingsLocked()
}

// saveSettingsLocked performs the actual saving without locking the mutex.
// This is to be called from functions that already hold the lock.
func saveSettingsLocked() error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, settingsFile), data, 0644)
}

// loadSettings loads the settings from settings.json, creating it with defaults if it doesn't exist or is corrupt.
func loadSettings() {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settingsPath := filepath.Join(configDir, settingsFile)
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("Settings file not found at %s, creating with default values.", settingsPath)
			settings = defaultSettings()
			if err := saveSettingsLocked(); err != nil {
				log.Fatalf("Failed to create default settings file: %v", err)
			}
		} else {
			log.Warnf("Failed to read settings file: %v. Loading default settings.", err)
			settings = defaultSettings()
		}
		return
	}

	// Start from defaults so fields missing from older files stay sensible
	loaded := defaultSettings()
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warnf("Failed to parse settings file, please check its format. Loading default settings. Error: %v", err)
		settings = defaultSettings()
		return
	}
	if err := loaded.Validate(); err != nil {
		log.Warnf("Invalid settings in %s: %v. Loading default settings.", settingsPath, err)
		settings = defaultSettings()
		return
	}
	settings = loaded

	log.Info("Successfully loaded settings from settings.json")
}
