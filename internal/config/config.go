// Package config implements the JSON configuration document (spec §4.11,
// §6): merged over defaults on load, written through on change, watched
// for external edits without ever blocking orchestration on disk I/O.
// Grounded on original_source/config_manager.py's ConfigManager
// (_load_default_config, load merging over defaults, save).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gamegov/optimizer/internal/oserr"
)

// Mode mirrors last_mode's enumerated values (spec §6).
type Mode string

const (
	ModeNormal  Mode = "normal"
	ModeAhorro  Mode = "ahorro"
	ModeGame    Mode = "game"
	ModeExtreme Mode = "extreme"
)

// ThermalThresholds are integer °C values (spec §6).
type ThermalThresholds struct {
	Soft     int `json:"soft"`
	Hard     int `json:"hard"`
	Shutdown int `json:"shutdown"`
}

// Document is the full JSON configuration (spec §3, §6). Unknown keys
// encountered on disk are preserved via Extra; missing keys are filled
// from Defaults() on load.
type Document struct {
	ThermalThresholds   ThermalThresholds `json:"thermal_thresholds"`
	Autostart           bool              `json:"autostart"`
	LastMode            Mode              `json:"last_mode"`
	GameModeEnabled     bool              `json:"game_mode_enabled"`
	AhorroModeEnabled   bool              `json:"ahorro_mode_enabled"`
	ExtremoModeEnabled  bool              `json:"extremo_mode_enabled"`
	ModuleManagerEnabled bool             `json:"module_manager_enabled"`
	UserWhitelist       []string          `json:"user_whitelist"`
	UserGamelist        []string          `json:"user_gamelist"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Defaults returns the document pre-filled with the defaults shown in
// spec §6's example file.
func Defaults() Document {
	return Document{
		ThermalThresholds:    ThermalThresholds{Soft: 80, Hard: 90, Shutdown: 100},
		Autostart:            false,
		LastMode:             ModeNormal,
		GameModeEnabled:      false,
		AhorroModeEnabled:    false,
		ExtremoModeEnabled:   false,
		ModuleManagerEnabled: true,
		UserWhitelist:        []string{},
		UserGamelist:         []string{},
	}
}

// Store owns one on-disk configuration document: it loads merged-over-
// defaults state, writes through on every mutating call, and optionally
// watches the file for external edits from the out-of-scope UI.
type Store struct {
	path string

	mu  sync.RWMutex
	doc Document

	watcher *fsnotify.Watcher
	onChange func(Document)
}

// Load reads path, merging the parsed document over Defaults(). A missing
// file is not an error: Load seeds path with the defaults and returns them.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	doc, err := loadMerged(path)
	if err != nil {
		if os.IsNotExist(err) {
			doc = Defaults()
			if werr := writeDocument(path, doc); werr != nil {
				return nil, oserr.New(oserr.Config, "config_load", werr)
			}
		} else {
			return nil, oserr.New(oserr.Config, "config_load", err)
		}
	}
	s.doc = doc
	return s, nil
}

func loadMerged(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Document{}, oserr.New(oserr.Config, "config_parse", err)
	}

	doc := Defaults()
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, oserr.New(oserr.Config, "config_parse", err)
	}

	known := map[string]struct{}{
		"thermal_thresholds": {}, "autostart": {}, "last_mode": {},
		"game_mode_enabled": {}, "ahorro_mode_enabled": {}, "extremo_mode_enabled": {},
		"module_manager_enabled": {}, "user_whitelist": {}, "user_gamelist": {},
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, ok := known[k]; !ok {
			extra[k] = v
		}
	}
	doc.Extra = extra
	return doc, nil
}

func writeDocument(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	merged := map[string]json.RawMessage{}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(b, &flat); err != nil {
		return err
	}
	for k, v := range flat {
		merged[k] = v
	}
	for k, v := range doc.Extra {
		merged[k] = v
	}
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// Get returns a copy of the current document.
func (s *Store) Get() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Save writes doc through to disk and becomes the new in-memory state.
func (s *Store) Save(doc Document) error {
	if err := writeDocument(s.path, doc); err != nil {
		return oserr.New(oserr.Config, "config_save", err)
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// SetThermalThresholds round-trips spec §8's "set_thermal_thresholds(x);
// load_config().thresholds == x" property.
func (s *Store) SetThermalThresholds(t ThermalThresholds) error {
	doc := s.Get()
	doc.ThermalThresholds = t
	return s.Save(doc)
}

// SetLastMode persists the current operating mode.
func (s *Store) SetLastMode(m Mode) error {
	doc := s.Get()
	doc.LastMode = m
	return s.Save(doc)
}

// AddGamelistUser/RemoveGamelistUser mutate the user gamelist set.
func (s *Store) AddGamelistUser(name string) error {
	doc := s.Get()
	if !contains(doc.UserGamelist, name) {
		doc.UserGamelist = append(doc.UserGamelist, name)
	}
	return s.Save(doc)
}

func (s *Store) RemoveGamelistUser(name string) error {
	doc := s.Get()
	doc.UserGamelist = remove(doc.UserGamelist, name)
	return s.Save(doc)
}

// AddWhitelistUser/RemoveWhitelistUser mutate the user whitelist set.
func (s *Store) AddWhitelistUser(name string) error {
	doc := s.Get()
	if !contains(doc.UserWhitelist, name) {
		doc.UserWhitelist = append(doc.UserWhitelist, name)
	}
	return s.Save(doc)
}

func (s *Store) RemoveWhitelistUser(name string) error {
	doc := s.Get()
	doc.UserWhitelist = remove(doc.UserWhitelist, name)
	return s.Save(doc)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Watch starts watching the config file for external edits (e.g. from the
// out-of-scope tray UI) and invokes onChange with the freshly merged
// document whenever the file is written. The core never blocks
// orchestration on this — onChange runs on the watcher's own goroutine.
func (s *Store) Watch(onChange func(Document)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return oserr.New(oserr.Config, "config_watch", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return oserr.New(oserr.Config, "config_watch", err)
	}
	s.watcher = w
	s.onChange = onChange

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				doc, err := loadMerged(s.path)
				if err != nil {
					continue
				}
				s.mu.Lock()
				s.doc = doc
				s.mu.Unlock()
				if s.onChange != nil {
					s.onChange(doc)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if one was started.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
