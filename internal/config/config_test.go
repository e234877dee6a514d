package config_test

import (
	"os"
	"testing"

	"studydeck/internal/config"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"OPENAI_API_KEY", "OPENAI_MODEL", "DATABASE_PATH", "UPLOAD_DIR", "PORT", "DEMO_MODE", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()
	if cfg.Port != "8787" {
		t.Errorf("port %q", cfg.Port)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("model %q", cfg.OpenAIModel)
	}
	if cfg.DemoMode {
		t.Error("demo mode on by default")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("cors origins %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9000")
	t.Setenv("DEMO_MODE", "1")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://study.example.com")

	cfg := config.Load()
	if cfg.OpenAIKey != "sk-test" || cfg.Port != "9000" || !cfg.DemoMode {
		t.Errorf("cfg %+v", cfg)
	}
	want := []string{"http://localhost:5173", "https://study.example.com"}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != want[0] || cfg.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins %v", cfg.CORSOrigins)
	}
}
