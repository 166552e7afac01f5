package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("T2I_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("T2I_DEFAULT_MODEL", "")
	t.Setenv("HUGGINGFACE_API_KEY", "hf_test")

	cfg := LoadConfig()

	if cfg.ServerPort != 5000 {
		t.Errorf("expected port 5000, got %d", cfg.ServerPort)
	}
	if cfg.DefaultModel != "flux-schnell" {
		t.Errorf("unexpected default model: %s", cfg.DefaultModel)
	}
	if cfg.GuidanceScale != 7.5 || cfg.InferenceSteps != 50 {
		t.Errorf("unexpected generation defaults: %v/%d", cfg.GuidanceScale, cfg.InferenceSteps)
	}
	if cfg.DefaultWidth != 1024 || cfg.DefaultHeight != 1024 {
		t.Errorf("unexpected default size: %dx%d", cfg.DefaultWidth, cfg.DefaultHeight)
	}
	if cfg.APIKey != "hf_test" {
		t.Errorf("API key not read from env")
	}
	if cfg.RequestTimeout().Seconds() != 120 {
		t.Errorf("unexpected timeout: %v", cfg.RequestTimeout())
	}
}

func TestLoadConfigPortFallback(t *testing.T) {
	t.Setenv("T2I_PORT", "")
	t.Setenv("PORT", "8080")
	if cfg := LoadConfig(); cfg.ServerPort != 8080 {
		t.Errorf("expected PORT fallback 8080, got %d", cfg.ServerPort)
	}

	t.Setenv("T2I_PORT", "9000")
	if cfg := LoadConfig(); cfg.ServerPort != 9000 {
		t.Errorf("expected T2I_PORT to win, got %d", cfg.ServerPort)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		content := "server_port: 7000\ndefault_model: openjourney\nlog_level: debug\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile failed: %v", err)
		}
		if cfg.ServerPort != 7000 || cfg.DefaultModel != "openjourney" || cfg.LogLevel != "debug" {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if cfg.InferenceSteps != 50 {
			t.Errorf("defaults not applied, steps=%d", cfg.InferenceSteps)
		}
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "config.json")
		if err := os.WriteFile(path, []byte(`{"rate_limit": 5}`), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile failed: %v", err)
		}
		if cfg.RateLimit != 5 {
			t.Errorf("expected rate limit 5, got %d", cfg.RateLimit)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		path := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(path, []byte(""), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFromFile(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
			t.Errorf("expected unsupported format error, got %v", err)
		}
	})
}

func TestLoadWithPriorityEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("server_port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "")
	t.Setenv("T2I_PORT", "7100")

	cfg, err := LoadWithPriority(path)
	if err != nil {
		t.Fatalf("LoadWithPriority failed: %v", err)
	}
	if cfg.ServerPort != 7100 {
		t.Errorf("expected env override 7100, got %d", cfg.ServerPort)
	}
}

func TestSaveToFileOmitsAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{APIKey: "hf_secret"}
	cfg.applyDefaults()

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(dir, name)
		if err := cfg.SaveToFile(path); err != nil {
			t.Fatalf("SaveToFile(%s) failed: %v", name, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "hf_secret") {
			t.Errorf("%s leaked the API key", name)
		}
	}
	if cfg.APIKey != "hf_secret" {
		t.Error("SaveToFile must not clear the in-memory key")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.DefaultWidth = 1000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for width not divisible by 8")
	}

	cfg.DefaultWidth = 1024
	cfg.ServerPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestIsProduction(t *testing.T) {
	if (&Config{Env: "Production"}).IsProduction() != true {
		t.Error("expected production")
	}
	if (&Config{Env: "test"}).IsProduction() {
		t.Error("expected non-production")
	}
}
