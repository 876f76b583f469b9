package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setRequiredEnv задаёт минимальный набор обязательных переменных.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("UM_DB_HOST", "localhost")
	t.Setenv("UM_DB_NAME", "cfusers")
	t.Setenv("UM_DB_USER", "cfusers")
	t.Setenv("UM_DB_PASSWORD", "secret")
	t.Setenv("UM_UAA_URL", "https://uaa.example.com")
	t.Setenv("UM_UAA_CLIENT_ID", "user-module")
	t.Setenv("UM_UAA_CLIENT_SECRET", "client-secret")
	t.Setenv("UM_CC_URL", "https://api.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	if cfg.Port != 8000 {
		t.Errorf("Port = %d, хотели 8000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, хотели info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, хотели json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, хотели 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, хотели disable", cfg.DBSSLMode)
	}
	if cfg.ProviderTimeout != 15*time.Second {
		t.Errorf("ProviderTimeout = %v, хотели 15s", cfg.ProviderTimeout)
	}
	if cfg.ReconcileMaxElapsed != 2*time.Minute {
		t.Errorf("ReconcileMaxElapsed = %v, хотели 2m", cfg.ReconcileMaxElapsed)
	}
	if cfg.ResyncInterval != 15*time.Minute {
		t.Errorf("ResyncInterval = %v, хотели 15m", cfg.ResyncInterval)
	}
	if cfg.DephealthGroup != "cfusers" {
		t.Errorf("DephealthGroup = %q, хотели cfusers", cfg.DephealthGroup)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, хотели 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UM_DB_HOST", "")

	if _, err := Load(); err == nil {
		t.Error("Load() без UM_DB_HOST не вернул ошибку")
	}
}

func TestLoad_PortOutOfRange(t *testing.T) {
	setRequiredEnv(t)

	for _, port := range []string{"7999", "8010", "80"} {
		t.Setenv("UM_PORT", port)
		if _, err := Load(); err == nil {
			t.Errorf("Load() с UM_PORT=%s не вернул ошибку диапазона", port)
		}
	}

	t.Setenv("UM_PORT", "8005")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() с UM_PORT=8005 ошибка: %v", err)
	}
	if cfg.Port != 8005 {
		t.Errorf("Port = %d, хотели 8005", cfg.Port)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UM_LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Error("Load() с недопустимым UM_LOG_LEVEL не вернул ошибку")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UM_PROVIDER_TIMEOUT", "fifteen seconds")

	if _, err := Load(); err == nil {
		t.Error("Load() с недопустимым UM_PROVIDER_TIMEOUT не вернул ошибку")
	}
}

func TestLoad_TrimsTrailingSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UM_UAA_URL", "https://uaa.example.com/")
	t.Setenv("UM_CC_URL", "https://api.example.com///")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if strings.HasSuffix(cfg.UAAURL, "/") {
		t.Errorf("UAAURL = %q, trailing slash не убран", cfg.UAAURL)
	}
	if strings.HasSuffix(cfg.CCURL, "/") {
		t.Errorf("CCURL = %q, trailing slash не убран", cfg.CCURL)
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5432, DBName: "cfusers",
		DBUser: "app", DBPassword: "pw", DBSSLMode: "disable",
	}

	want := "host=db port=5432 dbname=cfusers user=app password=pw sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, хотели %q", got, want)
	}
}
