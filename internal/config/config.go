package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	LogPath   string
	OutputDir string

	CatalogAPIBaseURL string
	CatalogAPIToken   string
	CatalogRateRPS    int
	CatalogTimeoutMs  int
	SnapshotMaxAgeHrs int

	InternalDomains []string

	ClientScoreFloor   int
	ClientTopN         int
	ProductTopN        int
	AutoPromoteScore   int
	QuantityWindowSize int
	ResolveWorkers     int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "mappings.db")),
		LogPath:   getEnv("LOG_PATH", filepath.Join(cwd, "data", "rondot.log")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		CatalogAPIBaseURL: getEnv("CATALOG_API_BASE_URL", "http://localhost:8069/api/v1"),
		CatalogAPIToken:   getEnv("CATALOG_API_TOKEN", ""),
		CatalogRateRPS:    getEnvInt("CATALOG_RATE_LIMIT_RPS", 5),
		CatalogTimeoutMs:  getEnvInt("CATALOG_TIMEOUT_MS", 30000),
		SnapshotMaxAgeHrs: getEnvInt("SNAPSHOT_MAX_AGE_HOURS", 24),

		InternalDomains: getEnvList("INTERNAL_DOMAINS", "rondot.fr,rondot.com"),

		ClientScoreFloor:   getEnvInt("CLIENT_SCORE_FLOOR", 60),
		ClientTopN:         getEnvInt("CLIENT_TOP_N", 5),
		ProductTopN:        getEnvInt("PRODUCT_TOP_N", 10),
		AutoPromoteScore:   getEnvInt("MAPPING_AUTO_PROMOTE_SCORE", 90),
		QuantityWindowSize: getEnvInt("QUANTITY_WINDOW_CHARS", 80),
		ResolveWorkers:     getEnvInt("RESOLVE_WORKERS", 4),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
