package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NATS_INTAKE_SUBJECT", "")
	t.Setenv("NATS_MAX_DELIVER", "")
	t.Setenv("RATE_LIMIT_RPS", "")

	cfg := Load()
	if cfg.NATSIntakeSubject != "docpipe.intake" {
		t.Fatalf("expected default intake subject, got %q", cfg.NATSIntakeSubject)
	}
	if cfg.NATSMaxDeliver != 5 {
		t.Fatalf("expected default max deliver 5, got %d", cfg.NATSMaxDeliver)
	}
	if cfg.RateLimitRPS != 10 {
		t.Fatalf("expected default rate limit 10, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("NATS_OCR_SUBJECT", "pipeline.ocr.v2")
	t.Setenv("NATS_MAX_DELIVER", "3")
	t.Setenv("MAIL_POLL_INTERVAL_SECONDS", "5")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()
	if cfg.NATSOCRSubject != "pipeline.ocr.v2" {
		t.Fatalf("expected ocr subject override, got %q", cfg.NATSOCRSubject)
	}
	if cfg.NATSMaxDeliver != 3 {
		t.Fatalf("expected max deliver 3, got %d", cfg.NATSMaxDeliver)
	}
	if got := cfg.MailPollInterval().Seconds(); got != 5 {
		t.Fatalf("expected 5s poll interval, got %vs", got)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("NATS_MAX_DELIVER", "many")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg := Load()
	if cfg.NATSMaxDeliver != 5 {
		t.Fatalf("expected fallback max deliver 5, got %d", cfg.NATSMaxDeliver)
	}
	if cfg.RateLimitRPS != 10 {
		t.Fatalf("expected fallback rate limit 10, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadAppliesFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	overlay := "storage_path: /var/lib/docpipe\nllm_model: gpt-4.1\n"
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("PIPELINE_CONFIG_FILE", path)
	t.Setenv("STORAGE_PATH", "")
	t.Setenv("LLM_MODEL", "")

	cfg := Load()
	if cfg.StoragePath != "/var/lib/docpipe" {
		t.Fatalf("expected overlay storage path, got %q", cfg.StoragePath)
	}
	if cfg.LLMModel != "gpt-4.1" {
		t.Fatalf("expected overlay model, got %q", cfg.LLMModel)
	}
}

func TestLoadEnvWinsOverFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("api_port: \"9999\"\n"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("PIPELINE_CONFIG_FILE", path)
	t.Setenv("API_PORT", "8081")

	cfg := Load()
	if cfg.APIPort != "8081" {
		t.Fatalf("expected env to win, got %q", cfg.APIPort)
	}
}
