package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Comune     ComuneConfig     `yaml:"comune" mapstructure:"comune"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	External   ExternalConfig   `yaml:"external" mapstructure:"external"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ComuneConfig identifies the target municipality and run directories.
type ComuneConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Years     []int  `yaml:"years" mapstructure:"years"`
	InputDir  string `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	Workspace string `yaml:"workspace" mapstructure:"workspace"`
}

// StoreConfig configures the catalog backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CrawlConfig configures the download collaborator.
type CrawlConfig struct {
	MaxPages            int     `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDocuments        int     `yaml:"max_documents" mapstructure:"max_documents"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UserAgent           string  `yaml:"user_agent" mapstructure:"user_agent"`
	DownloadConcurrency int     `yaml:"download_concurrency" mapstructure:"download_concurrency"`
	ExtractConcurrency  int     `yaml:"extract_concurrency" mapstructure:"extract_concurrency"`
}

// ExtractConfig configures the extraction cascade thresholds.
type ExtractConfig struct {
	// EarlyStopWithLLM gates acceptance when the LLM strategy is active.
	EarlyStopWithLLM float64 `yaml:"early_stop_with_llm" mapstructure:"early_stop_with_llm"`
	// EarlyStopHeuristic gates acceptance when only heuristic/external run.
	EarlyStopHeuristic float64 `yaml:"early_stop_heuristic" mapstructure:"early_stop_heuristic"`
	CellConcurrency    int     `yaml:"cell_concurrency" mapstructure:"cell_concurrency"`
}

// RetrievalConfig configures ranked retrieval.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k" mapstructure:"top_k"`
	MinScore     float64 `yaml:"min_score" mapstructure:"min_score"`
	SynonymsPath string  `yaml:"synonyms_path" mapstructure:"synonyms_path"`
}

// LLMConfig configures the optional LLM extraction strategy.
type LLMConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	Key                 string  `yaml:"key" mapstructure:"key"`
	Model               string  `yaml:"model" mapstructure:"model"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxDocs             int     `yaml:"max_docs" mapstructure:"max_docs"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExternalConfig configures the optional official-source lookup strategy.
type ExternalConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DataDir is the per-comune data directory inside the workspace.
func (c *Config) DataDir() string {
	return filepath.Join(c.Comune.Workspace, "data", strings.ToLower(c.Comune.Name))
}

// CatalogPath is the SQLite catalog location for this comune.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir(), "catalog.sqlite")
}

// IndexDir is the directory holding the persisted index partitions.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir(), "index")
}

// RawDir holds raw downloaded documents, one file per content hash.
func (c *Config) RawDir() string {
	return filepath.Join(c.DataDir(), "raw")
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMUNE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("comune.input_dir", "./input")
	v.SetDefault("comune.output_dir", "./output")
	v.SetDefault("comune.workspace", "./workspace")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.max_pages", 500)
	v.SetDefault("crawl.max_documents", 2000)
	v.SetDefault("crawl.timeout_secs", 30)
	v.SetDefault("crawl.requests_per_second", 2.0)
	v.SetDefault("crawl.user_agent", "comune-cli/1.0 (civic data research)")
	v.SetDefault("crawl.download_concurrency", 8)
	v.SetDefault("crawl.extract_concurrency", 4)
	v.SetDefault("extract.early_stop_with_llm", 0.75)
	v.SetDefault("extract.early_stop_heuristic", 0.85)
	v.SetDefault("extract.cell_concurrency", 4)
	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.min_score", 0.0)
	v.SetDefault("llm.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.confidence_threshold", 0.7)
	v.SetDefault("llm.max_docs", 3)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("external.base_url", "https://esploradati.istat.it/SDMXWS/rest")
	v.SetDefault("external.timeout_secs", 15)
	v.SetDefault("ocr.pdftotext_path", "pdftotext")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
