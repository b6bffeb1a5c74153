package admin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/agentkb/internal/config"
	"github.com/cloo-solutions/agentkb/internal/corpus"
	"github.com/cloo-solutions/agentkb/internal/database"
	"github.com/cloo-solutions/agentkb/internal/embedding"
	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/openai"
	"github.com/cloo-solutions/agentkb/internal/repository"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/cloo-solutions/agentkb/internal/storage"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// engine is the fully wired chat engine plus the handles the daemon needs
// to maintain it.
type engine struct {
	loader   *embedding.Loader
	vector   *index.VectorIndex
	lexical  *index.LexicalIndex
	cache    *service.ResponseCache
	memory   *service.MemoryConversationStore
	chat     *service.ChatService
	indexes  *service.IndexService
	snapshot *storage.SnapshotSource
	chunks   *repository.ChunkRepository

	closers []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func engineOptions(cfg *config.Config) service.EngineOptions {
	return service.EngineOptions{
		QualityThreshold:   cfg.QualityThreshold,
		ExcellentThreshold: cfg.ExcellentThreshold,
		MinScore:           cfg.MinScore,
		TopK:               cfg.TopK,
		MaxTurns:           cfg.MaxTurns,
		ResponseCacheTTL:   cfg.ResponseCacheTTL,
		CacheMaxEntries:    cfg.ResponseCacheSize,
		LLMTimeout:         cfg.LLMTimeout,
		EmbeddingTimeout:   cfg.EmbeddingTimeout,
		ChatModel:          cfg.ChatModel,
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (*engine, error) {
	e := &engine{}
	opts := engineOptions(cfg)

	source, err := e.openCorpus(ctx, cfg, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	var llm service.LLMClient
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
		})
		e.loader = embedding.NewLoader(client, cfg.EmbeddingModel, logger)
		llm = client
	} else {
		logger.Info("OPENAI_API_KEY not set, using hashing embedder without llm enhancement")
		e.loader = embedding.NewLoader(embedding.NewHashingEmbedder(embedding.DefaultHashingDimensions), "hashing", logger)
	}

	vocab := service.DefaultVocabulary()
	if cfg.ClassifierVocabulary != "" {
		vocab, err = service.LoadVocabulary(cfg.ClassifierVocabulary)
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	e.vector = index.NewVectorIndex(source, e.loader, index.VectorConfig{
		TTL:              cfg.VectorCacheTTL,
		EmbedConcurrency: cfg.EmbedConcurrency,
	}, logger)
	e.lexical = index.NewLexicalIndex(e.vector, index.LexicalConfig{TTL: cfg.LexicalTTL}, logger)
	e.cache = service.NewResponseCache(opts.ResponseCacheTTL, opts.CacheMaxEntries)

	var sessions service.ConversationStore
	if cfg.HasRedis() {
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = client.Close() })
		sessions = repository.NewRedisConversationStore(client, cfg.MaxTurns, cfg.SessionTTL)
		logger.Info("conversation history stored in redis")
	} else {
		e.memory = service.NewMemoryConversationStore(cfg.MaxTurns, cfg.SessionTTL)
		sessions = e.memory
	}

	retriever := service.NewRetriever(e.loader, e.vector, e.lexical, opts, logger, metrics)
	e.chat = service.NewChatService(service.ChatDeps{
		Classifier:    service.NewClassifier(vocab),
		Retriever:     retriever,
		Enhancer:      service.NewEnhancer(llm, cfg.ChatModel, cfg.LLMTimeout, logger, metrics),
		Cache:         e.cache,
		Conversations: sessions,
		Logger:        logger,
		Metrics:       metrics,
	}, opts)
	e.indexes = service.NewIndexService(e.vector, e.lexical, e.cache, logger, metrics)

	return e, nil
}

func (e *engine) openCorpus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (index.ChunkSource, error) {
	switch cfg.CorpusSource {
	case config.CorpusPostgres:
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		e.chunks = repository.NewChunkRepository(pool)
		logger.Info("corpus source: postgres")
		return e.chunks, nil
	case config.CorpusS3:
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, err
		}
		e.snapshot = storage.NewSnapshotSource(client, cfg.S3CorpusKey)
		logger.Info("corpus source: s3", zap.String("bucket", cfg.S3Bucket), zap.String("key", cfg.S3CorpusKey))
		return e.snapshot, nil
	case config.CorpusDir, "":
		logger.Info("corpus source: directory", zap.String("dir", cfg.CorpusDir))
		return corpus.NewDirSource(cfg.CorpusDir, corpus.DefaultChunkConfig(), logger), nil
	default:
		return nil, fmt.Errorf("unknown corpus source %q", cfg.CorpusSource)
	}
}

// start warms the embedding model and builds the first index snapshot. A
// failed first build is logged; retrieval falls back to TF-IDF until a
// refresh succeeds.
func (e *engine) start(ctx context.Context, logger *zap.Logger) {
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_ = e.loader.Warm(warmCtx)

	if err := e.indexes.RefreshIndex(ctx); err != nil {
		logger.Warn("initial index build failed", zap.Error(err))
	}
}
