package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("WEDECODE_TEST_TOKEN", "s3cret")
	p := writeConfig(t, "port: 9000\ntoken: ${WEDECODE_TEST_TOKEN}\n")

	cfg := sample{Name: "default", Port: 1}
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" || cfg.Port != 9000 || cfg.Token != "s3cret" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	var cfg sample
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("missing file should fail")
	}

	p := writeConfig(t, "port: [\n")
	if err := Load(p, &cfg); err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("parse err = %v", err)
	}

	p = writeConfig(t, "port: 0\n")
	if err := Load(p, &cfg); err == nil || !strings.Contains(err.Error(), "config: invalid") {
		t.Errorf("validation err = %v", err)
	}

	p = writeConfig(t, "port: 9000\nprot: 1\n")
	if err := Load(p, &cfg); err == nil || !strings.Contains(err.Error(), "prot") {
		t.Errorf("unknown key err = %v", err)
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg := sample{Name: "default", Port: 3}
	if err := Load(writeConfig(t, ""), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" || cfg.Port != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadOptional(t *testing.T) {
	cfg := sample{Port: 8080}
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err != nil {
		t.Fatalf("missing file should keep defaults: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d", cfg.Port)
	}

	bad := sample{}
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &bad); err == nil {
		t.Error("invalid defaults should fail validation")
	}

	p := writeConfig(t, "port: 7000\n")
	if err := LoadOptional(p, &cfg); err != nil || cfg.Port != 7000 {
		t.Errorf("LoadOptional = %v, port %d", err, cfg.Port)
	}
}
