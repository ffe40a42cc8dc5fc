package commands

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HoldModeMap resolves the abstract "hold position" intent to the
// numeric flight-mode code a given vehicle dialect understands. The
// mapping is supplied per deployment instead of hard-coding one
// autopilot's mode number.
type HoldModeMap struct {
	Dialects       map[string]DialectModes `yaml:"dialects"`
	DefaultDialect string                  `yaml:"default_dialect"`
}

// DialectModes holds the mode codes for one vehicle dialect.
type DialectModes struct {
	HoldMode int `yaml:"hold_mode"`
}

// DefaultHoldModeMap covers the two common autopilot dialects:
// ArduPilot LOITER (5) and PX4 auto-loiter (4).
func DefaultHoldModeMap() HoldModeMap {
	return HoldModeMap{
		Dialects: map[string]DialectModes{
			"ardupilot": {HoldMode: 5},
			"px4":       {HoldMode: 4},
		},
		DefaultDialect: "ardupilot",
	}
}

// LoadHoldModeMap reads a YAML mode map from path. An empty path yields
// the default map.
func LoadHoldModeMap(path string) (HoldModeMap, error) {
	if path == "" {
		return DefaultHoldModeMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return HoldModeMap{}, fmt.Errorf("hold mode map: %w", err)
	}
	var m HoldModeMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return HoldModeMap{}, fmt.Errorf("hold mode map: %w", err)
	}
	if err := m.Validate(); err != nil {
		return HoldModeMap{}, err
	}
	return m, nil
}

// Validate checks map invariants.
func (m HoldModeMap) Validate() error {
	if len(m.Dialects) == 0 {
		return errors.New("hold mode map: no dialects")
	}
	if m.DefaultDialect == "" {
		return errors.New("hold mode map: empty default dialect")
	}
	if _, ok := m.Dialects[m.DefaultDialect]; !ok {
		return fmt.Errorf("hold mode map: default dialect %q not defined", m.DefaultDialect)
	}
	return nil
}

// HoldMode resolves the hold-mode code for a dialect. An empty name
// uses the default dialect; an unknown name is an error rather than a
// silent fallback, since sending the wrong mode code to a vehicle is
// worse than sending none.
func (m HoldModeMap) HoldMode(dialect string) (int, error) {
	if dialect == "" {
		dialect = m.DefaultDialect
	}
	modes, ok := m.Dialects[dialect]
	if !ok {
		return 0, fmt.Errorf("hold mode map: unknown dialect %q", dialect)
	}
	return modes.HoldMode, nil
}
