package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	RequestTimeout time.Duration
	HuggingFace    HuggingFaceConfig
	Store          StoreConfig
	Monitor        MonitorConfig
	API            APIConfig
}

type HuggingFaceConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

type StoreConfig struct {
	Type string
	Path string
}

type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

// APIConfig ограничение частоты запросов к /api.
type APIConfig struct {
	RateLimit float64
	RateBurst int
}

// Load читает конфигурацию из окружения. Если рядом лежит .env, его значения
// подхватываются, но не перекрывают уже заданные переменные.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	reqTimeout, err := parseDuration(getEnv("HTTP_CLIENT_TIMEOUT", "60s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HTTP_CLIENT_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = reqTimeout

	cfg.HuggingFace = HuggingFaceConfig{
		APIKey:       getEnv("HF_API_KEY", ""),
		BaseURL:      getEnv("HF_BASE_URL", "https://api-inference.huggingface.co/models/"),
		DefaultModel: getEnv("HF_DEFAULT_MODEL", ""),
	}

	cfg.Store = StoreConfig{
		Type: getEnv("STORE_TYPE", "file"),
		Path: getEnv("STORE_PATH", "data/dashboard.json"),
	}

	enabled, err := parseBoolDefault(os.Getenv("CONNECTION_CHECK_ENABLED"), true)
	if err != nil {
		return Config{}, fmt.Errorf("parse CONNECTION_CHECK_ENABLED: %w", err)
	}
	interval, err := parseDuration(getEnv("CONNECTION_CHECK_INTERVAL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CONNECTION_CHECK_INTERVAL: %w", err)
	}
	cfg.Monitor = MonitorConfig{Enabled: enabled, Interval: interval}

	rateLimit, err := strconv.ParseFloat(getEnv("API_RATE_LIMIT", "5"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("parse API_RATE_LIMIT: %w", err)
	}
	rateBurst, err := strconv.Atoi(getEnv("API_RATE_BURST", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("parse API_RATE_BURST: %w", err)
	}
	cfg.API = APIConfig{RateLimit: rateLimit, RateBurst: rateBurst}

	return cfg, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(value)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// parseBoolDefault parses optional boolean with default value.
func parseBoolDefault(value string, def bool) (bool, error) {
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}
