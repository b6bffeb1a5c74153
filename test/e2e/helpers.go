//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/cloo-solutions/agentkb/internal/api/handlers"
	"github.com/cloo-solutions/agentkb/internal/api/middleware"
	"github.com/cloo-solutions/agentkb/internal/corpus"
	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/embedding"
	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/openai"
	"github.com/cloo-solutions/agentkb/internal/repository"
	"github.com/cloo-solutions/agentkb/internal/server"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
	"github.com/cloo-solutions/agentkb/internal/testutil"
)

const (
	e2eAPIKey   = "akb_e2e0123456789abcdef0123456789a"
	e2eLLMReply = "Enhanced answer from the language model."
	llmTimeout  = 2 * time.Second
)

// FakeOpenAI is an OpenAI-compatible server. Embeddings come from the
// hashing embedder so similarity is meaningful; chat replies are canned
// and can be made to hang until the caller gives up.
type FakeOpenAI struct {
	Server    *httptest.Server
	Hang      atomic.Bool
	ChatCalls atomic.Int64
	embedder  *embedding.HashingEmbedder
}

func NewFakeOpenAI(t *testing.T) *FakeOpenAI {
	f := &FakeOpenAI{embedder: embedding.NewHashingEmbedder(embedding.DefaultHashingDimensions)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) == 0 {
			http.Error(w, `{"error":{"message":"bad input"}}`, http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, 0, len(req.Input))
		for i, text := range req.Input {
			vec, err := f.embedder.GenerateEmbedding(r.Context(), text)
			if err != nil {
				http.Error(w, `{"error":{"message":"embed failed"}}`, http.StatusInternalServerError)
				return
			}
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		writeJSON(w, map[string]any{"object": "list", "model": req.Model, "data": data})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.ChatCalls.Add(1)
		if f.Hang.Load() {
			<-r.Context().Done()
			return
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-e2e",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": e2eLLMReply},
				"finish_reason": "stop",
			}},
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeOpenAI) Client() *openai.Client {
	return openai.NewClientWithConfig(openai.Config{
		APIKey:              "sk-e2e",
		BaseURL:             f.Server.URL + "/v1",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: embedding.DefaultHashingDimensions,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	Pool       *pgxpool.Pool
	LLM        *FakeOpenAI
	Chunks     *repository.ChunkRepository
	Indexes    *service.IndexService
	Server     *httptest.Server
	Registry   *prometheus.Registry
	BinaryDir  string
	HTTPClient *http.Client
}

// SetupE2EEnv starts Postgres, seeds it with the embedded test corpus and
// serves the full router against it.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")
	llm := NewFakeOpenAI(t)
	client := llm.Client()
	loader := embedding.NewLoader(client, "text-embedding-3-small", logger)
	if err := loader.Warm(ctx); err != nil {
		t.Fatalf("failed to warm embedder: %v", err)
	}

	chunks := repository.NewChunkRepository(pool)
	seedCorpus(ctx, t, loader, pool)

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	opts := service.DefaultEngineOptions()
	opts.LLMTimeout = llmTimeout

	vector := index.NewVectorIndex(chunks, loader, index.VectorConfig{TTL: time.Hour}, logger)
	lexical := index.NewLexicalIndex(vector, index.LexicalConfig{TTL: time.Minute}, logger)
	cache := service.NewResponseCache(opts.ResponseCacheTTL, opts.CacheMaxEntries)

	chat := service.NewChatService(service.ChatDeps{
		Retriever:     service.NewRetriever(loader, vector, lexical, opts, logger, metrics),
		Enhancer:      service.NewEnhancer(client, opts.ChatModel, opts.LLMTimeout, logger, metrics),
		Cache:         cache,
		Conversations: service.NewMemoryConversationStore(opts.MaxTurns, 0),
		Logger:        logger,
		Metrics:       metrics,
	}, opts)
	indexes := service.NewIndexService(vector, lexical, cache, logger, metrics)
	if err := indexes.RefreshIndex(ctx); err != nil {
		t.Fatalf("failed to build index: %v", err)
	}

	router := server.NewRouter(server.RouterConfig{
		Keys:         middleware.NewStaticKeys([]string{e2eAPIKey}),
		Logger:       logger,
		Gatherer:     reg,
		ChatHandler:  handlers.NewChatHandler(chat),
		AdminHandler: handlers.NewAdminHandler(chat, indexes),
	})

	return &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		Pool:       pool,
		LLM:        llm,
		Chunks:     chunks,
		Indexes:    indexes,
		Server:     httptest.NewServer(router),
		Registry:   reg,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// seedCorpus embeds testdata/corpus and stores it the way
// `agentkbd index --export postgres` does.
func seedCorpus(ctx context.Context, t *testing.T, loader *embedding.Loader, pool *pgxpool.Pool) {
	t.Helper()
	dir := corpus.NewDirSource("testdata/corpus", corpus.DefaultChunkConfig(), nil)
	staging := index.NewVectorIndex(dir, loader, index.VectorConfig{}, nil)
	if err := staging.Refresh(ctx); err != nil {
		t.Fatalf("failed to embed corpus: %v", err)
	}
	embedded := staging.EmbeddedChunks()
	if len(embedded) == 0 {
		t.Fatal("test corpus produced no chunks")
	}
	if _, err := repository.SyncChunks(ctx, pool, embedded); err != nil {
		t.Fatalf("failed to seed chunks: %v", err)
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Server != nil {
		e.Server.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		_ = os.RemoveAll(e.BinaryDir)
	}
}

// BuildCLI builds the agentkb binary.
func (e *E2ETestEnv) BuildCLI() {
	tmpDir, err := os.MkdirTemp("", "agentkb-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "agentkb"), "./cmd/agentkb")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build agentkb: %v\n%s", err, out)
	}
}

// RunCLI runs agentkb with credentials in the environment and a private
// config directory.
func (e *E2ETestEnv) RunCLI(configHome string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "agentkb"), args...)
	cmd.Dir = configHome
	cmd.Env = append(os.Environ(),
		"AGENTKB_API_KEY="+e2eAPIKey,
		"AGENTKB_API_URL="+e.Server.URL,
		"XDG_CONFIG_HOME="+configHome,
		"HOME="+configHome,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
}

func (e *E2ETestEnv) Get(path, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, apiKey)
}

func (e *E2ETestEnv) Post(path string, body any, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, apiKey)
}

func (e *E2ETestEnv) Delete(path, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, apiKey)
}

// Chat posts a chat request and decodes the answer. Non-2xx is an error.
func (e *E2ETestEnv) Chat(req handlers.ChatRequest) (*domain.Response, error) {
	resp, err := e.Post("/chat", req, e2eAPIKey)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.Status, resp.Error)
	}
	var out domain.Response
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *E2ETestEnv) doRequest(method, path string, body any, apiKey string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reqBody = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequest(method, e.Server.URL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{Status: resp.StatusCode}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return apiResp, nil
	}
	if err := json.Unmarshal(respBody, apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return apiResp, nil
}
