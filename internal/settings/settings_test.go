package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoConfigFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Load("testmud", filepath.Join(dir, "config"), filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Mud.Port != 4000 {
		t.Fatalf("got port %d, want 4000", s.Mud.Port)
	}
	if s.Mud.BindIP != "0.0.0.0" {
		t.Fatalf("got bind ip %q", s.Mud.BindIP)
	}
	if s.Mud.Name != "testmud" {
		t.Fatalf("got name %q", s.Mud.Name)
	}
}

func TestLoadMergesConfigFile(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	toml := "[mud]\nport = 5555\nname = \"MyMud\"\n"
	if err := os.WriteFile(filepath.Join(configDir, "default.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load("testmud", configDir, filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Mud.Port != 5555 {
		t.Fatalf("got port %d, want 5555", s.Mud.Port)
	}
	if s.Mud.Name != "MyMud" {
		t.Fatalf("got name %q", s.Mud.Name)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("HAVOK_MUD_PORT", "6000")
	defer os.Unsetenv("HAVOK_MUD_PORT")

	s, err := Load("testmud", filepath.Join(dir, "config"), filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Mud.Port != 6000 {
		t.Fatalf("got port %d, want 6000", s.Mud.Port)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	dir := t.TempDir()
	s, err := Load("testmud", filepath.Join(dir, "config"), filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := s.Clone()
	c.Mud.Port = 9999
	if s.Mud.Port == 9999 {
		t.Fatal("Clone should not alias the original")
	}
}
