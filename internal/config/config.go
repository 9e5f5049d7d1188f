// Пакет config — загрузка и валидация конфигурации upload-backend.
// Источники (по возрастанию приоритета): значения по умолчанию,
// YAML-файл (опционально), переменные окружения UPLOAD_*.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// ConfigFileEnv — переменная окружения с путём к YAML-файлу конфигурации.
const ConfigFileEnv = "UPLOAD_CONFIG_FILE"

// envPrefix — общий префикс переменных окружения.
const envPrefix = "UPLOAD_"

// DeleteMode — режим авторизации удаления payload.
type DeleteMode string

const (
	// DeleteModeCreator — удалять может только владелец слота (bare JID).
	DeleteModeCreator DeleteMode = "creator"
	// DeleteModeToken — удаление по одноразовому токену.
	DeleteModeToken DeleteMode = "token"
	// DeleteModeAny — токен, если передан, иначе проверка владельца.
	DeleteModeAny DeleteMode = "any"
)

// Config содержит все параметры конфигурации upload-backend.
// Неизменяем после Load.
type Config struct {
	// Порт HTTP-сервера
	Port int `yaml:"port" env:"PORT"`
	// Допустимые ключи XMPP-серверов
	ServerKeys []string `yaml:"server_keys" env:"SERVER_KEYS" envSeparator:","`
	// Максимальный размер файла в байтах
	MaxFileSize int64 `yaml:"max_file_size" env:"MAX_FILE_SIZE"`
	// Запрещённые подстроки в имени файла
	InvalidFilenameChars []string `yaml:"invalid_filename_chars" env:"INVALID_FILENAME_CHARS" envSeparator:","`
	// Время жизни токена удаления
	DeleteTokenValidity time.Duration `yaml:"delete_token_validity" env:"DELETE_TOKEN_VALIDITY"`
	// Режим авторизации удаления (creator, token, any)
	DeleteMode DeleteMode `yaml:"delete_mode" env:"DELETE_MODE"`
	// Выдавать токен удаления только владельцу слота
	DeleteTokenOwnerOnly bool `yaml:"delete_token_owner_only" env:"DELETE_TOKEN_OWNER_ONLY"`
	// Ключ подписи токенов удаления (HS256). Пусто — случайный на процесс.
	DeleteTokenSecret string `yaml:"delete_token_secret" env:"DELETE_TOKEN_SECRET"`
	// Корневая директория payload
	StorageDir string `yaml:"storage_dir" env:"STORAGE_DIR"`
	// Директория реестра слотов
	SlotDir string `yaml:"slot_dir" env:"SLOT_DIR"`
	// Директория WAL
	WALDir string `yaml:"wal_dir" env:"WAL_DIR"`
	// Публичный базовый URL для PUT
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	// Публичный базовый URL для GET (по умолчанию совпадает с PUT)
	PublicGetBaseURL string `yaml:"public_get_base_url" env:"PUBLIC_GET_BASE_URL"`
	// Размер кэша записей реестра (0 — кэш отключён)
	RegistryCacheSize int `yaml:"registry_cache_size" env:"REGISTRY_CACHE_SIZE"`
	// TTL записей в кэше реестра
	RegistryCacheTTL time.Duration `yaml:"registry_cache_ttl" env:"REGISTRY_CACHE_TTL"`
	// Путь к TLS сертификату
	TLSCert string `yaml:"tls_cert" env:"TLS_CERT"`
	// Путь к TLS приватному ключу
	TLSKey string `yaml:"tls_key" env:"TLS_KEY"`
	// Уровень логирования (debug, info, warn, error)
	LogLevelName string `yaml:"log_level" env:"LOG_LEVEL"`
	// Формат логов (json, text)
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// Разобранный уровень логирования
	LogLevel slog.Level `yaml:"-" env:"-"`
}

// defaults возвращает конфигурацию со значениями по умолчанию.
func defaults() *Config {
	return &Config{
		Port:                 8080,
		MaxFileSize:          10485760,
		InvalidFilenameChars: []string{"/"},
		DeleteTokenValidity:  5 * time.Minute,
		DeleteMode:           DeleteModeCreator,
		DeleteTokenOwnerOnly: true,
		RegistryCacheTTL:     time.Minute,
		LogLevelName:         "info",
		LogFormat:            "json",
		ShutdownTimeout:      10 * time.Second,
	}
}

// Load загружает конфигурацию. path — путь к YAML-файлу; если пуст,
// используется UPLOAD_CONFIG_FILE; если и он пуст, файл не читается.
// Переменные окружения перекрывают значения из файла.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile накладывает значения из YAML-файла на cfg.
func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	// Пустой файл — не ошибка
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ошибка разбора файла конфигурации %s: %w", path, err)
	}
	return nil
}

// validate проверяет обязательные поля и допустимые значения,
// нормализует производные поля.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("UPLOAD_PORT: значение %d вне допустимого диапазона 1-65535", c.Port)
	}

	c.ServerKeys = compact(c.ServerKeys, strings.TrimSpace)
	if len(c.ServerKeys) == 0 {
		return fmt.Errorf("UPLOAD_SERVER_KEYS: обязательный параметр не задан")
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("UPLOAD_MAX_FILE_SIZE: значение должно быть положительным")
	}

	c.InvalidFilenameChars = compact(c.InvalidFilenameChars, nil)

	if c.DeleteTokenValidity <= 0 {
		return fmt.Errorf("UPLOAD_DELETE_TOKEN_VALIDITY: значение должно быть положительным")
	}

	switch c.DeleteMode {
	case DeleteModeCreator, DeleteModeToken, DeleteModeAny:
	default:
		return fmt.Errorf("UPLOAD_DELETE_MODE: недопустимое значение %q, допустимые: creator, token, any", c.DeleteMode)
	}

	required := []struct {
		key string
		val *string
	}{
		{"UPLOAD_STORAGE_DIR", &c.StorageDir},
		{"UPLOAD_SLOT_DIR", &c.SlotDir},
		{"UPLOAD_WAL_DIR", &c.WALDir},
		{"UPLOAD_PUBLIC_BASE_URL", &c.PublicBaseURL},
	}
	for _, r := range required {
		*r.val = strings.TrimSpace(*r.val)
		if *r.val == "" {
			return fmt.Errorf("%s: обязательный параметр не задан", r.key)
		}
	}

	var err error
	c.PublicBaseURL, err = normalizeBaseURL(c.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("UPLOAD_PUBLIC_BASE_URL: %w", err)
	}
	if strings.TrimSpace(c.PublicGetBaseURL) == "" {
		c.PublicGetBaseURL = c.PublicBaseURL
	} else {
		c.PublicGetBaseURL, err = normalizeBaseURL(c.PublicGetBaseURL)
		if err != nil {
			return fmt.Errorf("UPLOAD_PUBLIC_GET_BASE_URL: %w", err)
		}
	}

	if c.RegistryCacheSize < 0 {
		return fmt.Errorf("UPLOAD_REGISTRY_CACHE_SIZE: значение не может быть отрицательным")
	}
	if c.RegistryCacheSize > 0 && c.RegistryCacheTTL <= 0 {
		return fmt.Errorf("UPLOAD_REGISTRY_CACHE_TTL: значение должно быть положительным при включённом кэше")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("UPLOAD_TLS_CERT и UPLOAD_TLS_KEY задаются только вместе")
	}

	c.LogLevel, err = parseLogLevel(c.LogLevelName)
	if err != nil {
		return fmt.Errorf("UPLOAD_LOG_LEVEL: %w", err)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("UPLOAD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", c.LogFormat)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("UPLOAD_SHUTDOWN_TIMEOUT: значение должно быть положительным")
	}

	return nil
}

// TLSEnabled — TLS включён, если заданы сертификат и ключ.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Addr возвращает адрес прослушивания HTTP-сервера.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
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

// normalizeBaseURL проверяет абсолютный http(s) URL и убирает завершающий слэш.
func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("ожидается http или https URL, получено %q", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("в URL %q не указан хост", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// compact применяет norm (если задан) и убирает пустые элементы.
func compact(items []string, norm func(string) string) []string {
	out := items[:0:0]
	for _, item := range items {
		if norm != nil {
			item = norm(item)
		}
		if item != "" {
			out = append(out, item)
		}
	}
	return out
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
