package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken       string
	LogLevel       string
	DatabaseDriver string
	MySQLDSN       string
	SQLitePath     string

	WayForPayMerchantAccount  string
	WayForPaySecretKey        string
	WayForPayMerchantPassword string
	MerchantDomainName        string
	WayForPayProductName      string
	WayForPayAPIURL           string
	WayForPayUseWidget        bool
	AppURL                    string

	PaymentAmountMinor int64
	PaymentCurrency    string
	FreeGenerations    int
	CreditsPerPayment  int
	GenerationLockTTL  time.Duration

	HTTPListenAddr string
	AdminUsername  string
	AdminPassword  string
	AdminUserIDs   []int64

	OpenAIAPIKey   string
	OpenAIModel    string
	KIEAPIKey      string
	KIEBaseURL     string
	RequestTimeout time.Duration

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}
	cfg, missing := fromEnv()
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}
	if cfg.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if cfg.WayForPayMerchantAccount == "" {
		missing = append(missing, "WAYFORPAY_MERCHANT_ACCOUNT")
	}
	if cfg.WayForPaySecretKey == "" && cfg.WayForPayMerchantPassword == "" {
		missing = append(missing, "WAYFORPAY_SECRET_KEY")
	}
	for key, value := range map[string]string{
		"S3_REGION":          cfg.S3Region,
		"S3_ACCESS_KEY":      cfg.S3AccessKey,
		"S3_SECRET_KEY":      cfg.S3SecretKey,
		"S3_BUCKET":          cfg.S3Bucket,
		"S3_PUBLIC_BASE_URL": cfg.S3PublicBaseURL,
	} {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return cfg, nil
}

// LoadStore reads only what is needed to reach the database.
func LoadStore() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}
	cfg, missing := fromEnv()
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return cfg, nil
}

func fromEnv() (Config, []string) {
	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		BotToken:                  os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:            strings.ToLower(getEnv("DATABASE_DRIVER", "mysql")),
		MySQLDSN:                  os.Getenv("MYSQL_DSN"),
		SQLitePath:                getEnv("SQLITE_PATH", filepath.Join("data", "smachno.db")),
		WayForPayMerchantAccount:  os.Getenv("WAYFORPAY_MERCHANT_ACCOUNT"),
		WayForPaySecretKey:        os.Getenv("WAYFORPAY_SECRET_KEY"),
		WayForPayMerchantPassword: os.Getenv("WAYFORPAY_MERCHANT_PASSWORD"),
		MerchantDomainName:        os.Getenv("MERCHANT_DOMAIN_NAME"),
		WayForPayProductName:      getEnv("WAYFORPAY_PRODUCT_NAME", "Generation of creative for Instagram"),
		WayForPayAPIURL:           getEnv("WAYFORPAY_API_URL", "https://api.wayforpay.com/api"),
		WayForPayUseWidget:        getBool("WAYFORPAY_USE_WIDGET", false),
		AppURL:                    strings.TrimRight(os.Getenv("APP_URL"), "/"),
		PaymentAmountMinor:        getMinor("PAYMENT_AMOUNT", 3000),
		PaymentCurrency:           getEnv("PAYMENT_CURRENCY", "UAH"),
		FreeGenerations:           getInt("FREE_GENERATIONS", 2),
		CreditsPerPayment:         getInt("CREDITS_PER_PAYMENT", 1),
		GenerationLockTTL:         getDuration("GENERATION_LOCK_TTL", 5*time.Minute),
		HTTPListenAddr:            getEnv("HTTP_LISTEN_ADDR", ":3000"),
		AdminUsername:             getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:             os.Getenv("ADMIN_PASSWORD"),
		AdminUserIDs:              getInt64List("ADMIN_USER_IDS"),
		OpenAIAPIKey:              os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:               getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		KIEAPIKey:                 os.Getenv("KIE_API_KEY"),
		KIEBaseURL:                normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		RequestTimeout:            time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		S3Endpoint:                getEnv("S3_ENDPOINT", ""),
		S3Region:                  os.Getenv("S3_REGION"),
		S3AccessKey:               os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:               os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                  os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:           os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:            getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:                  getEnv("S3_PREFIX", "creatives"),
	}
	if cfg.FreeGenerations < 0 {
		cfg.FreeGenerations = 0
	}
	if cfg.CreditsPerPayment < 1 {
		cfg.CreditsPerPayment = 1
	}

	var missing []string
	switch cfg.DatabaseDriver {
	case "mysql":
		if cfg.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case "sqlite":
	default:
		missing = append(missing, "DATABASE_DRIVER (mysql|sqlite)")
	}
	return cfg, missing
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// getMinor reads a major-unit price such as "30" or "49.99" as minor units.
func getMinor(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return int64(math.Round(f * 100))
}

func getInt64List(key string) []int64 {
	var out []int64
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// loadEnvFile loads the first env file found. Running without one is fine
// when the environment is already populated.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
