package commands

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHoldModeMap(t *testing.T) {
	m := DefaultHoldModeMap()
	if err := m.Validate(); err != nil {
		t.Fatalf("default map invalid: %v", err)
	}

	mode, err := m.HoldMode("ardupilot")
	if err != nil || mode != 5 {
		t.Fatalf("ardupilot hold mode = %d, %v; want 5", mode, err)
	}
	mode, err = m.HoldMode("px4")
	if err != nil || mode != 4 {
		t.Fatalf("px4 hold mode = %d, %v; want 4", mode, err)
	}
	mode, err = m.HoldMode("")
	if err != nil || mode != 5 {
		t.Fatalf("empty dialect should use default, got %d, %v", mode, err)
	}
	if _, err := m.HoldMode("betaflight"); err == nil {
		t.Fatal("unknown dialect must error")
	}
}

func TestLoadHoldModeMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.yaml")
	content := `
dialects:
  ardupilot:
    hold_mode: 5
  custom:
    hold_mode: 12
default_dialect: custom
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m, err := LoadHoldModeMap(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mode, err := m.HoldMode("")
	if err != nil || mode != 12 {
		t.Fatalf("default dialect hold mode = %d, %v; want 12", mode, err)
	}
}

func TestLoadHoldModeMap_EmptyPathUsesDefault(t *testing.T) {
	m, err := LoadHoldModeMap("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.DefaultDialect != "ardupilot" {
		t.Fatalf("expected ardupilot default, got %q", m.DefaultDialect)
	}
}

func TestLoadHoldModeMap_RejectsBadDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.yaml")
	content := `
dialects:
  ardupilot:
    hold_mode: 5
default_dialect: missing
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadHoldModeMap(path); err == nil {
		t.Fatal("expected validation error")
	}
}
