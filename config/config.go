package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Environment variables are the
// primary source; an optional YAML file (DATAPILOT_CONFIG) overlays the
// ingestion tunables for deployments that prefer a checked-in file.
type Config struct {
	Environment  string
	HTTPPort     string
	HTTPSPort    string
	Domains      []string
	CertCacheDir string

	UploadRoot     string
	FinalDir       string
	StoreBackend   string // "local" or "s3"
	CompressChunks bool
	S3Bucket       string

	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration

	Ingest IngestConfig

	AnalysisBackend string // "openai" or "rules"
	OpenAIAPIURL    string
	OpenAIAPIKey    string
	OpenAIModel     string

	DatabaseURL string
	LogDir      string
}

// IngestConfig tunes the streaming parser and retrieval bounds. These fields
// are the YAML-overridable subset.
type IngestConfig struct {
	BatchSize         int    `yaml:"batch_size"`
	MemoryCeilingMB   int    `yaml:"memory_ceiling_mb"`
	MaxUniqueValues   int    `yaml:"max_unique_values"`
	KeywordSampleRows int    `yaml:"keyword_sample_rows"`
	MaxKeywords       int    `yaml:"max_keywords"`
	MaxBatches        int    `yaml:"max_batches"`
	RowBudget         int    `yaml:"row_budget"`
	ByteBudget        int    `yaml:"byte_budget"`
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	cfg := Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		HTTPPort:     getEnv("HTTP_PORT", "8090"),
		HTTPSPort:    getEnv("HTTPS_PORT", "443"),
		Domains:      []string{getEnv("DOMAIN", "example.com")},
		CertCacheDir: getEnv("CERT_CACHE_DIR", "./certs"),

		UploadRoot:     getEnv("UPLOAD_ROOT", "./uploads/staging"),
		FinalDir:       getEnv("FINAL_DIR", "./uploads/complete"),
		StoreBackend:   getEnv("CHUNK_STORE_BACKEND", "local"),
		CompressChunks: getEnvAsBool("COMPRESS_CHUNKS", false),
		S3Bucket:       getEnv("S3_BUCKET", ""),

		SessionIdleTimeout: time.Duration(getEnvAsInt("SESSION_IDLE_TIMEOUT_HOURS", 24)) * time.Hour,
		SweepInterval:      time.Duration(getEnvAsInt("SWEEP_INTERVAL_MINUTES", 60)) * time.Minute,

		Ingest: IngestConfig{
			BatchSize:         getEnvAsInt("BATCH_SIZE", 5000),
			MemoryCeilingMB:   getEnvAsInt("MEMORY_CEILING_MB", 1024),
			MaxUniqueValues:   getEnvAsInt("MAX_UNIQUE_VALUES", 100),
			KeywordSampleRows: getEnvAsInt("KEYWORD_SAMPLE_ROWS", 10),
			MaxKeywords:       getEnvAsInt("MAX_KEYWORDS", 50),
			MaxBatches:        getEnvAsInt("MAX_RELEVANT_BATCHES", 8),
			RowBudget:         getEnvAsInt("CONTEXT_ROW_BUDGET", 200),
			ByteBudget:        getEnvAsInt("CONTEXT_BYTE_BUDGET", 65536),
		},

		AnalysisBackend: getEnv("ANALYSIS_BACKEND", "rules"),
		OpenAIAPIURL:    getEnv("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogDir:      getEnv("LOG_DIR", "./logs"),
	}

	if path := getEnv("DATAPILOT_CONFIG", ""); path != "" {
		if err := overlayFile(&cfg.Ingest, path); err != nil {
			log.Println("Warning: could not load config file:", err)
		}
	}
	return cfg
}

// overlayFile applies the YAML ingest section on top of env defaults.
func overlayFile(ingest *IngestConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Ingest IngestConfig `yaml:"ingest"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Ingest.BatchSize > 0 {
		ingest.BatchSize = file.Ingest.BatchSize
	}
	if file.Ingest.MemoryCeilingMB > 0 {
		ingest.MemoryCeilingMB = file.Ingest.MemoryCeilingMB
	}
	if file.Ingest.MaxUniqueValues > 0 {
		ingest.MaxUniqueValues = file.Ingest.MaxUniqueValues
	}
	if file.Ingest.KeywordSampleRows > 0 {
		ingest.KeywordSampleRows = file.Ingest.KeywordSampleRows
	}
	if file.Ingest.MaxKeywords > 0 {
		ingest.MaxKeywords = file.Ingest.MaxKeywords
	}
	if file.Ingest.MaxBatches > 0 {
		ingest.MaxBatches = file.Ingest.MaxBatches
	}
	if file.Ingest.RowBudget > 0 {
		ingest.RowBudget = file.Ingest.RowBudget
	}
	if file.Ingest.ByteBudget > 0 {
		ingest.ByteBudget = file.Ingest.ByteBudget
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
