// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken         = "TELEGRAM_TOKEN"
	KeyTelegramProviderToken = "TELEGRAM_PAYMENT_PROVIDER_TOKEN"
	KeyTelegramWebhookURL    = "TELEGRAM_WEBHOOK_URL"
	KeyTelegramWebhookSecret = "TELEGRAM_WEBHOOK_SECRET"
	KeyMongoURI              = "MONGO_URI"
	KeyMongoDB               = "MONGO_DB"
	KeyRedisURL              = "REDIS_URL"
	KeyChapaSecretKey        = "CHAPA_SECRET_KEY"
	KeyChapaBaseURL          = "CHAPA_BASE_URL"
	KeyCallbackBaseURL       = "CALLBACK_BASE_URL"
	KeyFrontendURL           = "FRONTEND_URL"
	KeyJWTSecret             = "JWT_SECRET"
	KeyAdminUIDs             = "ADMIN_UIDS"
	KeyCORSOrigins           = "CORS_ORIGINS"
	KeyAppEnv                = "APP_ENV"
	KeyLogLevel              = "LOG_LEVEL"
	KeyHTTPPort              = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultChapaBaseURL    = "https://api.chapa.co/v1"
	DefaultCallbackBaseURL = "http://localhost:8080"
	DefaultFrontendURL     = "http://localhost:3000"

	// Recommended database names by environment.
	DefaultMongoDBProd = "bingo"
	DefaultMongoDBDev  = "bingo_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the service must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the gateway.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyTelegramProviderToken,
		Example:     "284685063:TEST:abc",
		Description: "Payment provider token used for in-chat invoices.",
		Notes:       "Invoices are disabled when unset.",
	},
	{
		Key:         KeyTelegramWebhookURL,
		Example:     "https://bingo.example.com/api/telegram/webhook",
		Description: "Public webhook URL registered with Telegram.",
		Notes:       "Webhook mode when set, long polling otherwise.",
	},
	{
		Key:         KeyTelegramWebhookSecret,
		Example:     "s3cr3t",
		Description: "Value Telegram echoes in X-Telegram-Bot-Api-Secret-Token.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyRedisURL,
		Example:     "redis://localhost:6379/0",
		Description: "Redis used for payment settlement locks.",
		Notes:       "An in-process lock is used when unset; run a single replica in that case.",
	},
	{
		Key:         KeyChapaSecretKey,
		Example:     "CHASECK_TEST-xxxx",
		Description: "Chapa secret key for bearer authentication.",
		Notes:       "Chapa routes answer 503 when unset.",
	},
	{
		Key:         KeyChapaBaseURL,
		Example:     DefaultChapaBaseURL,
		Default:     DefaultChapaBaseURL,
		Description: "Chapa REST API base URL.",
	},
	{
		Key:         KeyCallbackBaseURL,
		Example:     "https://bingo.example.com",
		Default:     DefaultCallbackBaseURL,
		Description: "Public base URL Chapa calls back into.",
	},
	{
		Key:         KeyFrontendURL,
		Example:     "https://bingo.example.com",
		Default:     DefaultFrontendURL,
		Description: "Web game URL used for game links and payment return pages.",
	},
	{
		Key:         KeyJWTSecret,
		Example:     "change-me",
		Required:    true,
		Description: "HS256 secret for API session tokens.",
	},
	{
		Key:         KeyAdminUIDs,
		Example:     "uid1,tg_12345",
		Description: "Comma-separated user ids granted the admin role at startup.",
	},
	{
		Key:         KeyCORSOrigins,
		Example:     "https://bingo.example.com,http://localhost:5173",
		Description: "Comma-separated allowed CORS origins.",
		Notes:       "Defaults to " + KeyFrontendURL + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP API port.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken         string
	TelegramProviderToken string
	TelegramWebhookURL    string
	TelegramWebhookSecret string
	MongoURI              string
	MongoDB               string
	RedisURL              string
	ChapaSecretKey        string
	ChapaBaseURL          string
	CallbackBaseURL       string
	FrontendURL           string
	JWTSecret             string
	AdminUIDs             []string
	CORSOrigins           []string
	AppEnv                string
	LogLevel              string
	HTTPPort              int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:                firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:         strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		TelegramProviderToken: strings.TrimSpace(os.Getenv(KeyTelegramProviderToken)),
		TelegramWebhookURL:    strings.TrimSpace(os.Getenv(KeyTelegramWebhookURL)),
		TelegramWebhookSecret: strings.TrimSpace(os.Getenv(KeyTelegramWebhookSecret)),
		MongoURI:              strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:               strings.TrimSpace(os.Getenv(KeyMongoDB)),
		RedisURL:              strings.TrimSpace(os.Getenv(KeyRedisURL)),
		ChapaSecretKey:        strings.TrimSpace(os.Getenv(KeyChapaSecretKey)),
		ChapaBaseURL:          trimURL(firstNonEmpty(os.Getenv(KeyChapaBaseURL), DefaultChapaBaseURL)),
		CallbackBaseURL:       trimURL(firstNonEmpty(os.Getenv(KeyCallbackBaseURL), DefaultCallbackBaseURL)),
		FrontendURL:           trimURL(firstNonEmpty(os.Getenv(KeyFrontendURL), DefaultFrontendURL)),
		JWTSecret:             strings.TrimSpace(os.Getenv(KeyJWTSecret)),
		AdminUIDs:             splitList(os.Getenv(KeyAdminUIDs)),
		CORSOrigins:           splitList(os.Getenv(KeyCORSOrigins)),
		LogLevel:              firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:              DefaultHTTPPort,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}
	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, KeyJWTSecret)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	if cfg.RedisURL != "" {
		if err := validateScheme(KeyRedisURL, cfg.RedisURL, "redis", "rediss"); err != nil {
			return Config{}, err
		}
	}

	for key, raw := range map[string]string{
		KeyChapaBaseURL:    cfg.ChapaBaseURL,
		KeyCallbackBaseURL: cfg.CallbackBaseURL,
		KeyFrontendURL:     cfg.FrontendURL,
	} {
		if err := validateScheme(key, raw, "http", "https"); err != nil {
			return Config{}, err
		}
	}

	if cfg.TelegramWebhookURL != "" {
		if err := validateScheme(KeyTelegramWebhookURL, cfg.TelegramWebhookURL, "https"); err != nil {
			return Config{}, err
		}
	}

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{cfg.FrontendURL}
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// ChapaConfigured reports whether Chapa credentials are present.
func (c Config) ChapaConfigured() bool {
	return c.ChapaSecretKey != ""
}

// InvoicesEnabled reports whether Telegram in-chat invoices can be sent.
func (c Config) InvoicesEnabled() bool {
	return c.TelegramProviderToken != ""
}

// WebhookMode reports whether Telegram updates arrive through a webhook.
func (c Config) WebhookMode() bool {
	return c.TelegramWebhookURL != ""
}

// FormatRedacted renders the resolved configuration with secrets masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + maskSecret(cfg.TelegramToken),
		"telegram_payment_provider_token: " + maskSecret(cfg.TelegramProviderToken),
		"telegram_webhook_url: " + orUnset(cfg.TelegramWebhookURL),
		"telegram_webhook_secret: " + maskSecret(cfg.TelegramWebhookSecret),
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"redis_url: " + orUnset(redactURI(cfg.RedisURL)),
		"chapa_secret_key: " + maskSecret(cfg.ChapaSecretKey),
		"chapa_base_url: " + cfg.ChapaBaseURL,
		"callback_base_url: " + cfg.CallbackBaseURL,
		"frontend_url: " + cfg.FrontendURL,
		"jwt_secret: " + maskSecret(cfg.JWTSecret),
		"admin_uids: " + orUnset(strings.Join(cfg.AdminUIDs, ",")),
		"cors_origins: " + orUnset(strings.Join(cfg.CORSOrigins, ",")),
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
	}

	return strings.Join(lines, "\n")
}

func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 4 {
		return "...redacted"
	}
	return value[:4] + "...redacted"
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	parsed.User = nil

	return parsed.String()
}

func orUnset(value string) string {
	if value == "" {
		return "(unset)"
	}
	return value
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateMongoURI(raw string) error {
	return validateScheme(KeyMongoURI, raw, "mongodb", "mongodb+srv")
}

func validateScheme(key, raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}

	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}

	return fmt.Errorf("invalid %s: scheme must be one of %s", key, strings.Join(schemes, ", "))
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func trimURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
