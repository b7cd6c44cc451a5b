// Command kbbridge serves the knowledge base answering pipeline over MCP,
// on stdio or a streamable HTTP endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/kbbridge/cache"
	"github.com/sweetpotato0/kbbridge/config"
	"github.com/sweetpotato0/kbbridge/contrib/llm/claude"
	"github.com/sweetpotato0/kbbridge/contrib/llm/gemini"
	"github.com/sweetpotato0/kbbridge/contrib/llm/openai"
	_ "github.com/sweetpotato0/kbbridge/contrib/retrieval/dify"
	_ "github.com/sweetpotato0/kbbridge/contrib/retrieval/pgvector"
	"github.com/sweetpotato0/kbbridge/discovery"
	"github.com/sweetpotato0/kbbridge/llm"
	"github.com/sweetpotato0/kbbridge/orchestration"
	"github.com/sweetpotato0/kbbridge/pkg/logging"
	"github.com/sweetpotato0/kbbridge/pkg/telemetry"
	"github.com/sweetpotato0/kbbridge/query"
	"github.com/sweetpotato0/kbbridge/reflection"
	"github.com/sweetpotato0/kbbridge/retrieval"
	"github.com/sweetpotato0/kbbridge/server"
	"github.com/sweetpotato0/kbbridge/synthesis"
)

func main() {
	transport := flag.String("transport", "stdio", "Transport to serve: stdio or http")
	host := flag.String("host", "127.0.0.1", "Host to bind for the http transport")
	port := flag.Int("port", 8080, "Port to bind for the http transport")
	path := flag.String("path", "/mcp", "HTTP path for the MCP streamable endpoint")
	provider := flag.String("llm-provider", "openai", "Text generation provider: openai, claude or gemini")
	flag.Parse()

	logger := logging.WithComponent("main")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "kbbridge",
		ServiceVersion: server.Version,
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	creds := config.FromEnv()
	if err := creds.Validate(); err != nil {
		logger.Error("invalid credentials", "error", err)
		os.Exit(1)
	}
	logger.Info("credentials loaded", "summary", creds.MaskedSummary())

	srv, err := buildServer(ctx, creds, *provider)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	switch *transport {
	case "stdio":
		logger.Info("serving MCP over stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
			logger.Error("stdio server stopped", "error", err)
			os.Exit(1)
		}
	case "http":
		handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			if r.URL.Path == *path {
				return srv
			}
			return nil
		}, nil)
		mux := http.NewServeMux()
		mux.Handle(*path, handler)

		addr := fmt.Sprintf("%s:%d", *host, *port)
		logger.Info("serving MCP streamable endpoint", "addr", addr, "path", *path)
		httpServer := &http.Server{Addr: addr, Handler: mux}
		go func() {
			<-ctx.Done()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(closeCtx)
		}()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unknown transport", "transport", *transport)
		os.Exit(1)
	}
}

// buildServer wires the whole pipeline from credentials.
func buildServer(ctx context.Context, creds config.Credentials, provider string) (*mcp.Server, error) {
	logger := logging.WithComponent("main")

	backend, err := retrieval.New(creds)
	if err != nil {
		return nil, fmt.Errorf("retrieval backend: %w", err)
	}

	client, err := buildClient(ctx, creds, provider)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	var store cache.Store
	if creds.RedisAddr != "" {
		store = cache.NewRedisStore(&cache.RedisConfig{Addr: creds.RedisAddr})
		logger.Info("using redis file list cache", "addr", creds.RedisAddr)
	} else {
		store = cache.NewMemoryStore()
	}

	var reranker *synthesis.Reranker
	if creds.RerankConfigured() {
		reranker, err = synthesis.NewReranker(creds.RerankURL, creds.RerankModel)
		if err != nil {
			return nil, fmt.Errorf("reranker: %w", err)
		}
	} else {
		logger.Info("rerank service not configured, reranking disabled")
	}

	extractor := synthesis.NewAnswerExtractor(client, 0)
	keywords := query.NewKeywordGenerator(client, 0)
	discoverer := discovery.NewDiscoverer(backend, discovery.WithReranker(reranker))
	lister := discovery.NewLister(backend, store, 0)

	processor := orchestration.NewDatasetProcessor(
		lister,
		orchestration.NewDirectProcessor(backend, extractor),
		orchestration.NewAdvancedProcessor(backend, discoverer, extractor, func(ctx context.Context, q string) [][]string {
			return keywords.Generate(ctx, q)
		}),
	)

	opts := []orchestration.AssistantOption{
		orchestration.WithReflection(reflection.NewIntegration(client, 0, 0)),
	}
	if reranker != nil {
		opts = append(opts, orchestration.WithCandidateReranker(reranker))
	}
	assistant, err := orchestration.NewAssistant(client, processor, lister, opts...)
	if err != nil {
		return nil, err
	}

	return server.NewServer("kbbridge", server.Deps{
		Assistant:     assistant,
		Retriever:     backend,
		Discoverer:    discoverer,
		Keywords:      keywords,
		RerankEnabled: creds.RerankConfigured(),
	})
}

func buildClient(ctx context.Context, creds config.Credentials, provider string) (llm.Client, error) {
	switch provider {
	case "openai":
		cfg := openai.DefaultConfig().
			WithAPIKey(creds.LLMAPIToken).
			WithBaseURL(creds.LLMAPIURL).
			WithModel(creds.LLMModel)
		return openai.New(cfg), nil
	case "claude":
		cfg := claude.DefaultConfig(creds.LLMAPIToken, creds.LLMAPIURL)
		if creds.LLMModel != "" {
			cfg.Model = creds.LLMModel
		}
		return claude.New(cfg), nil
	case "gemini":
		cfg := gemini.DefaultConfig(creds.LLMAPIToken)
		if creds.LLMModel != "" {
			cfg.Model = creds.LLMModel
		}
		return gemini.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q (valid: openai, claude, gemini)", provider)
	}
}
