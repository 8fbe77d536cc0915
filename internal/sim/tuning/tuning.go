package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// EngineTickMs is how often the engine loop flushes pending refreshes.
	EngineTickMs          int `yaml:"engine_tick_ms"`
	SnapshotEverySeconds  int `yaml:"snapshot_every_seconds"`
	// SnapshotKeep is how many snapshots stay live; older ones are
	// archived. Zero keeps all.
	SnapshotKeep          int `yaml:"snapshot_keep"`
	MaxAssemblies         int `yaml:"max_assemblies"`
	MaxImportsPerAssembly int `yaml:"max_imports_per_assembly"`
	MaxAreaTiles          int `yaml:"max_area_tiles"`

	Limits Limits    `yaml:"limits"`
	Log    LogConfig `yaml:"log"`
}

type Limits struct {
	CommandsWindowMs int `yaml:"commands_window_ms"`
	CommandsMax      int `yaml:"commands_max"`
	ClientOutbox     int `yaml:"client_outbox"`
	EngineInbox      int `yaml:"engine_inbox"`
}

// LogConfig controls rotation of the server log file.
type LogConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:       "1.0",
		EngineTickMs:          50,
		SnapshotEverySeconds:  300,
		SnapshotKeep:          10,
		MaxAssemblies:         256,
		MaxImportsPerAssembly: 32,
		MaxAreaTiles:          512 * 512,
		Limits: Limits{
			CommandsWindowMs: 1000,
			CommandsMax:      20,
			ClientOutbox:     64,
			EngineInbox:      1024,
		},
		Log: LogConfig{
			MaxSizeMB:  64,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Load reads path on top of Defaults, so a partial file only overrides
// what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.EngineTickMs <= 0:
		return fmt.Errorf("engine_tick_ms must be positive")
	case t.SnapshotKeep < 0:
		return fmt.Errorf("snapshot_keep must not be negative")
	case t.MaxAssemblies <= 0:
		return fmt.Errorf("max_assemblies must be positive")
	case t.MaxImportsPerAssembly < 0:
		return fmt.Errorf("max_imports_per_assembly must not be negative")
	case t.MaxAreaTiles <= 0:
		return fmt.Errorf("max_area_tiles must be positive")
	case t.Limits.CommandsWindowMs <= 0 || t.Limits.CommandsMax <= 0:
		return fmt.Errorf("limits.commands_* must be positive")
	case t.Limits.ClientOutbox <= 0 || t.Limits.EngineInbox <= 0:
		return fmt.Errorf("limits queue sizes must be positive")
	}
	return nil
}

// Digest identifies the effective values, independent of file layout.
func (t Tuning) Digest() string {
	raw, err := yaml.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
