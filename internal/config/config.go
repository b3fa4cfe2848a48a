package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// EnvConfigPath names the variable that points at a config file.
const EnvConfigPath = "RESUMEMIND_CONFIG"

// Graph backends.
const (
	BackendNeo4j    = "neo4j"
	BackendFalkorDB = "falkordb"
	BackendNone     = "none"
)

// Config is the top-level configuration structure.
type Config struct {
	DataDir    string       `json:"data_dir"`
	LogLevel   string       `json:"log_level"`
	PromptsDir string       `json:"prompts_dir"`
	Graph      GraphConfig  `json:"graph"`
	Qdrant     QdrantConfig `json:"qdrant"`
	Ingest     IngestConfig `json:"ingest"`
	QA         QAConfig     `json:"qa"`
}

type GraphConfig struct {
	Backend  string         `json:"backend"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	FalkorDB FalkorDBConfig `json:"falkordb"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type FalkorDBConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	Graph    string `json:"graph"`
}

// QdrantConfig enables the relationship index used by Q&A. An empty host
// disables it.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type IngestConfig struct {
	// ContextChars is how much of the resume is attached to every embedding text.
	ContextChars  int  `json:"context_chars"`
	MaxPDFPages   int  `json:"max_pdf_pages"`
	CleanRounds   int  `json:"clean_rounds"`
	ReviewEnabled bool `json:"review_enabled"`
}

// QAConfig bounds what each question sends to the model.
type QAConfig struct {
	ContextTokens int `json:"context_tokens"`
	HistoryTurns  int `json:"history_turns"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Graph: GraphConfig{
			Backend: BackendNeo4j,
			Neo4j: Neo4jConfig{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Password: "password",
				Database: "neo4j",
			},
			FalkorDB: FalkorDBConfig{
				Addr:  "localhost:6379",
				Graph: "resume_knowledge_graph",
			},
		},
		Qdrant: QdrantConfig{
			Port:       6334,
			Collection: "resume_relationships",
		},
		Ingest: IngestConfig{
			ContextChars:  500,
			MaxPDFPages:   100,
			CleanRounds:   3,
			ReviewEnabled: true,
		},
		QA: QAConfig{
			ContextTokens: 16000,
			HistoryTurns:  10,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".resumemind"
	}
	return filepath.Join(home, ".resumemind")
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults and substitutes environment
// variable references. An empty path falls back to $RESUMEMIND_CONFIG and then
// <data dir>/config.json; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.PromptsDir = expandHome(cfg.PromptsDir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a file can get wrong.
func (c *Config) Validate() error {
	switch c.Graph.Backend {
	case BackendNeo4j, BackendFalkorDB, BackendNone:
	case "":
		c.Graph.Backend = BackendNone
	default:
		return fmt.Errorf("unknown graph backend %q", c.Graph.Backend)
	}
	if c.Ingest.ContextChars < 0 || c.Ingest.MaxPDFPages < 0 || c.Ingest.CleanRounds < 0 {
		return errors.New("ingest limits must not be negative")
	}
	if c.QA.ContextTokens < 0 || c.QA.HistoryTurns < 0 {
		return errors.New("qa limits must not be negative")
	}
	if c.Qdrant.Host != "" && c.Qdrant.Port <= 0 {
		return fmt.Errorf("invalid qdrant port %d", c.Qdrant.Port)
	}
	return nil
}

// DBPath is the SQLite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "resumemind.db")
}

// LogPath is the log file inside the data directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "resumemind.log")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
