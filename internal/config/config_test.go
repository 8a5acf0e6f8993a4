package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Workflow.EventTimeout != 30*time.Second {
		t.Errorf("expected 30s event timeout, got %v", cfg.Workflow.EventTimeout)
	}
	if cfg.Workflow.MaxConditions <= 0 || cfg.Workflow.MaxActions <= 0 {
		t.Error("rule size limits must default to positive values")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if !cfg.Security.RateLimiting.Enabled || cfg.Security.RateLimiting.RequestsPerMinute <= 0 {
		t.Error("rate limiting should be on by default")
	}
	if cfg.Notifications.Email.Enabled {
		t.Error("email delivery is opt-in")
	}
	if cfg.Monitoring.Tracing.SampleRatio <= 0 || cfg.Monitoring.Tracing.SampleRatio > 1 {
		t.Errorf("sample ratio out of range: %v", cfg.Monitoring.Tracing.SampleRatio)
	}
}

func TestLoad_BindsMultiWordKeys(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("workflow.event_timeout", "5s")
	viper.Set("workflow.max_conditions", 7)
	viper.Set("database.max_open_conns", 42)
	viper.Set("monitoring.metrics_path", "/internal/metrics")
	viper.Set("log.file_path", "/tmp/deskflow.log")
	viper.Set("notifications.email.smtp_host", "mail.example.com")

	cfg := Load()
	if cfg.Workflow.EventTimeout != 5*time.Second {
		t.Errorf("event_timeout did not bind: %v", cfg.Workflow.EventTimeout)
	}
	if cfg.Workflow.MaxConditions != 7 {
		t.Errorf("max_conditions did not bind: %d", cfg.Workflow.MaxConditions)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Errorf("max_open_conns did not bind: %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Monitoring.MetricsPath != "/internal/metrics" {
		t.Errorf("metrics_path did not bind: %q", cfg.Monitoring.MetricsPath)
	}
	if cfg.Log.FilePath != "/tmp/deskflow.log" {
		t.Errorf("file_path did not bind: %q", cfg.Log.FilePath)
	}
	if cfg.Notifications.Email.SMTPHost != "mail.example.com" {
		t.Errorf("smtp_host did not bind: %q", cfg.Notifications.Email.SMTPHost)
	}
}

func TestInitLogger_InvalidLevelFallsBack(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Level = "chatty"
	cfg.Log.Output = "stdout"
	if err := InitLogger(cfg); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
}
