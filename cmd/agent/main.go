package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hunterwarburton/sage/internal/agent"
	"github.com/hunterwarburton/sage/internal/auth"
	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/embed"
	"github.com/hunterwarburton/sage/internal/index"
	"github.com/hunterwarburton/sage/internal/knowledge"
	"github.com/hunterwarburton/sage/internal/llm"
	"github.com/hunterwarburton/sage/internal/logger"
	"github.com/hunterwarburton/sage/internal/session"
	"github.com/hunterwarburton/sage/internal/telegram"
)

// Config represents the application configuration.
type Config struct {
	SourceURLs        []string
	Recreate          bool
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingDim      int
	HistoryLimit      int
	SearchK           int
	VectorWeight      float64
	KeywordWeight     float64

	IndexBackend    string
	IndexPath       string
	FingerprintPath string
	MilvusHost      string
	MilvusPort      string
	Collection      string

	SessionDBPath string
	SessionTable  string

	DeepSeekAPIKey string
	DeepSeekModel  string
	OpenAIAPIKey   string

	TelegramToken  string
	AdminUserIDs   string
	AllowedUserIDs string
}

// loadConfig loads configuration from environment variables.
func loadConfig() *Config {
	cfg := &Config{
		Recreate:          getEnvBool("RECREATE", false),
		EmbeddingProvider: getEnvWithDefault("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:    getEnvWithDefault("EMBEDDING_MODEL", embed.DefaultModel),
		EmbeddingDim:      getEnvInt("EMBEDDING_DIM", embed.DefaultDimension),
		HistoryLimit:      getEnvInt("HISTORY_LIMIT", agent.DefaultHistoryRuns),
		SearchK:           getEnvInt("SEARCH_K", agent.DefaultSearchK),
		VectorWeight:      getEnvFloat("HYBRID_VECTOR_WEIGHT", index.DefaultVectorWeight),
		KeywordWeight:     getEnvFloat("HYBRID_KEYWORD_WEIGHT", index.DefaultKeywordWeight),
		IndexBackend:      getEnvWithDefault("INDEX_BACKEND", "local"),
		IndexPath:         getEnvWithDefault("INDEX_PATH", "tmp/knowledge/index.json"),
		FingerprintPath:   getEnvWithDefault("FINGERPRINT_PATH", "tmp/knowledge/fingerprints.json"),
		MilvusHost:        getEnvWithDefault("MILVUS_HOST", "localhost"),
		MilvusPort:        getEnvWithDefault("MILVUS_PORT", "19530"),
		Collection:        getEnvWithDefault("MILVUS_COLLECTION", index.DefaultCollection),
		SessionDBPath:     getEnvWithDefault("SESSION_DB_PATH", "tmp/agent.db"),
		SessionTable:      getEnvWithDefault("SESSION_TABLE", session.DefaultTable),
		DeepSeekAPIKey:    os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekModel:     getEnvWithDefault("DEEPSEEK_MODEL", llm.DefaultModel),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		TelegramToken:     os.Getenv("TG_BOT_TOKEN"),
		AdminUserIDs:      os.Getenv("ADMIN_USER_IDS"),
		AllowedUserIDs:    os.Getenv("ALLOWED_USER_IDS"),
	}

	if raw := os.Getenv("SOURCE_URLS"); raw != "" {
		for _, url := range strings.Split(raw, ",") {
			if url = strings.TrimSpace(url); url != "" {
				cfg.SourceURLs = append(cfg.SourceURLs, url)
			}
		}
	}
	return cfg
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
		logger.Warn("Ignoring non-numeric %s=%q", key, raw)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		logger.Warn("Ignoring non-numeric %s=%q", key, raw)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
		logger.Warn("Ignoring non-boolean %s=%q", key, raw)
	}
	return defaultValue
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	recreate := flag.Bool("recreate", false, "Drop and rebuild the knowledge index before loading")
	loadOnly := flag.Bool("load", false, "Load knowledge sources and exit")
	useTelegram := flag.Bool("telegram", false, "Serve over Telegram instead of the terminal")
	sessionID := flag.String("session", "default", "Session ID for the terminal conversation")
	flag.Parse()

	logger.Init(*debug)
	logger.Info("Starting agent...")

	if err := godotenv.Load(); err != nil {
		logger.Info("Warning: No .env file found or error loading it")
	}

	config := loadConfig()
	if *recreate {
		config.Recreate = true
	}

	if config.DeepSeekAPIKey == "" && !*loadOnly {
		logger.Error("DEEPSEEK_API_KEY environment variable is required")
		os.Exit(1)
	}
	if config.EmbeddingProvider == "openai" && config.OpenAIAPIKey == "" {
		logger.Info("OPENAI_API_KEY not set, falling back to the local hash embedder")
		config.EmbeddingProvider = "fallback"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedders. The fallback is always available; the primary only when
	// the provider is configured.
	fallbackEmbedder := embed.NewHashEmbedder(embed.FallbackDimension)
	var primary core.Embedder
	embeddingDim := embed.FallbackDimension
	if config.EmbeddingProvider == "openai" {
		primary = embed.NewOpenAIEmbedder(config.OpenAIAPIKey,
			embed.WithModel(config.EmbeddingModel),
			embed.WithDimension(config.EmbeddingDim))
		embeddingDim = config.EmbeddingDim
	}

	// Knowledge index.
	var (
		idx core.VectorIndex
		err error
	)
	switch config.IndexBackend {
	case "milvus":
		addr := config.MilvusHost + ":" + config.MilvusPort
		idx, err = index.OpenMilvus(ctx, addr, embeddingDim,
			index.WithCollection(config.Collection),
			index.WithMilvusWeights(float32(config.VectorWeight), float32(config.KeywordWeight)))
	case "local":
		idx, err = index.OpenLocal(config.IndexPath,
			index.WithWeights(float32(config.VectorWeight), float32(config.KeywordWeight)))
	default:
		logger.Error("Unknown INDEX_BACKEND %q (want local or milvus)", config.IndexBackend)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Failed to open knowledge index: %v", err)
		os.Exit(1)
	}
	defer idx.Close()

	// Knowledge loading.
	fingerprints, err := knowledge.OpenFingerprintStore(config.FingerprintPath)
	if err != nil {
		logger.Error("Failed to open fingerprint store: %v", err)
		os.Exit(1)
	}
	ingestor := knowledge.NewIngestor(idx, primary, fallbackEmbedder, fingerprints,
		knowledge.WithFallbackOnly(config.EmbeddingProvider == "fallback"))

	if len(config.SourceURLs) > 0 {
		results, err := ingestor.IngestAll(ctx, config.SourceURLs, config.Recreate)
		if err != nil {
			logger.Error("Knowledge loading failed: %v", err)
			os.Exit(1)
		}
		for _, res := range results {
			if res.Skipped {
				logger.Info("Source %s unchanged, skipped", res.SourceURL)
				continue
			}
			logger.Info("Loaded %d chunks from %s (embedder=%s, failed=%d)",
				res.ChunksLoaded, res.SourceURL, res.Embedder, res.ChunksFailed)
		}
	} else {
		logger.Info("No SOURCE_URLS configured, starting with the existing index")
	}

	if *loadOnly {
		logger.Info("Knowledge loading complete")
		return
	}

	// Sessions.
	store, err := session.NewStore(config.SessionDBPath, session.WithTable(config.SessionTable))
	if err != nil {
		logger.Error("Failed to open session store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Chat model and orchestrator.
	model := llm.NewDeepSeekService(config.DeepSeekAPIKey, llm.WithModel(config.DeepSeekModel))
	agentSvc := agent.New(idx, store, model, primary, fallbackEmbedder,
		agent.WithSearchK(config.SearchK),
		agent.WithHistoryRuns(config.HistoryLimit),
		agent.WithFallbackEmbedderOnly(config.EmbeddingProvider == "fallback"))

	if *useTelegram {
		if config.TelegramToken == "" {
			logger.Error("TG_BOT_TOKEN environment variable is required for -telegram")
			os.Exit(1)
		}
		policy := auth.NewPolicyService(config.AdminUserIDs, config.AllowedUserIDs)
		bot, err := telegram.NewBot(config.TelegramToken, agentSvc, ingestor, policy, config.SourceURLs)
		if err != nil {
			logger.Error("Failed to initialize Telegram bot: %v", err)
			os.Exit(1)
		}
		logger.Info("Serving over Telegram")
		bot.Start(ctx)
		logger.Info("Agent has been shut down")
		return
	}

	runTerminal(ctx, agentSvc, *sessionID)
	logger.Info("Agent has been shut down")
}

// runTerminal reads queries from stdin and streams answers to stdout
// until EOF, "exit", or a shutdown signal.
func runTerminal(ctx context.Context, agentSvc *agent.Agent, sessionID string) {
	fmt.Println("Ask me anything. Type \"exit\" to quit.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return
		}

		resp, err := agentSvc.Run(ctx, sessionID, query, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("Turn failed: %v", err)
			continue
		}
		if resp.Degraded {
			logger.Warn("Answered with degraded context")
		}
		if !resp.Persisted {
			logger.Warn("Turn was not persisted: %v", resp.PersistErr)
		}
		if logger.IsDebugEnabled() {
			for i, src := range resp.Sources {
				logger.Debug("Source %d: %.2f %s", i+1, src.Score, src.Chunk.SourceURL)
			}
		}
	}
}
