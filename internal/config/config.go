// Пакет config — загрузка и валидация конфигурации User Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации User Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Cloud Foundry ---

	// URL UAA (например, https://uaa.system.example.com)
	UAAURL string
	// Client ID для доступа к UAA (client credentials)
	UAAClientID string
	// Client Secret для доступа к UAA
	UAAClientSecret string
	// URL Cloud Controller API (например, https://api.system.example.com)
	CCURL string
	// Путь к CA-сертификату для TLS-соединений с CF (опционально)
	CACertPath string

	// --- Провижининг ---

	// Пароль по умолчанию для новых аккаунтов UAA,
	// используется только если запрос не содержит пароль
	DefaultPassword string
	// Подсказка keep-alive по умолчанию для новых записей
	UserKeepAlive string
	// Таймаут одного вызова провайдера (UAA / Cloud Controller)
	ProviderTimeout time.Duration
	// Максимальное суммарное время повторов reconcile при transient-ошибках
	ReconcileMaxElapsed time.Duration
	// Интервал фоновой сверки записей с CF
	ResyncInterval time.Duration

	// --- topologymetrics ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// UM_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("UM_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("UM_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("UM_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	// UM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("UM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("UM_LOG_LEVEL: %w", err)
	}

	// UM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("UM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("UM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// UM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("UM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// UM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("UM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("UM_DB_PORT: %w", err)
	}

	// UM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("UM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// UM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("UM_DB_USER")
	if err != nil {
		return nil, err
	}

	// UM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("UM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// UM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("UM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("UM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Cloud Foundry ---

	// UM_UAA_URL — обязательный
	cfg.UAAURL, err = getEnvRequired("UM_UAA_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.UAAURL = strings.TrimRight(cfg.UAAURL, "/")

	// UM_UAA_CLIENT_ID — обязательный
	cfg.UAAClientID, err = getEnvRequired("UM_UAA_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// UM_UAA_CLIENT_SECRET — обязательный
	cfg.UAAClientSecret, err = getEnvRequired("UM_UAA_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	// UM_CC_URL — обязательный
	cfg.CCURL, err = getEnvRequired("UM_CC_URL")
	if err != nil {
		return nil, err
	}
	cfg.CCURL = strings.TrimRight(cfg.CCURL, "/")

	// UM_CA_CERT_PATH — путь к CA-сертификату CF (опционально)
	cfg.CACertPath = getEnvDefault("UM_CA_CERT_PATH", "")

	// --- Провижининг ---

	// UM_DEFAULT_PASSWORD — пароль по умолчанию (опционально; без него запрос
	// без пароля завершится ошибкой валидации)
	cfg.DefaultPassword = getEnvDefault("UM_DEFAULT_PASSWORD", "")

	// UM_USER_KEEPALIVE — keep-alive по умолчанию (опционально, хранится как есть)
	cfg.UserKeepAlive = getEnvDefault("UM_USER_KEEPALIVE", "")

	// UM_PROVIDER_TIMEOUT — таймаут вызова провайдера (по умолчанию 15s)
	cfg.ProviderTimeout, err = getEnvDuration("UM_PROVIDER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_PROVIDER_TIMEOUT: %w", err)
	}

	// UM_RECONCILE_MAX_ELAPSED — лимит повторов reconcile (по умолчанию 2m)
	cfg.ReconcileMaxElapsed, err = getEnvDuration("UM_RECONCILE_MAX_ELAPSED", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("UM_RECONCILE_MAX_ELAPSED: %w", err)
	}

	// UM_RESYNC_INTERVAL — интервал фоновой сверки (по умолчанию 15m)
	cfg.ResyncInterval, err = getEnvDuration("UM_RESYNC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("UM_RESYNC_INTERVAL: %w", err)
	}

	// --- topologymetrics ---

	// UM_DEPHEALTH_GROUP — группа в метриках (по умолчанию cfusers)
	cfg.DephealthGroup = getEnvDefault("UM_DEPHEALTH_GROUP", "cfusers")

	// UM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("UM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// UM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("UM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для метрик/лейблов).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
