package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/docbot-ai/docbot/internal/api"
	"github.com/docbot-ai/docbot/internal/chatbot"
	"github.com/docbot-ai/docbot/internal/chunk"
	"github.com/docbot-ai/docbot/internal/config"
	"github.com/docbot-ai/docbot/internal/elevenlabs"
	"github.com/docbot-ai/docbot/internal/narration"
	"github.com/docbot-ai/docbot/internal/openai"
	"github.com/docbot-ai/docbot/internal/retrieval"
	"github.com/docbot-ai/docbot/internal/source"
	"github.com/docbot-ai/docbot/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docbot server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Provider clients.
	openaiClient := openai.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, nil)
	ttsClient := elevenlabs.New(cfg.ElevenLabs.BaseURL, cfg.ElevenLabs.APIKey, nil)

	// Vector backend.
	var vectors retrieval.VectorStore
	switch cfg.Vectors.Backend {
	case "qdrant":
		qdrant := retrieval.NewQdrantStore(retrieval.QdrantConfig{
			URL:        cfg.Vectors.QdrantURL,
			APIKey:     cfg.Vectors.QdrantAPIKey,
			Collection: cfg.Vectors.QdrantCollection,
			Dimension:  openai.EmbeddingDimensions,
		})
		if err := qdrant.Init(ctx); err != nil {
			return fmt.Errorf("initializing qdrant collection: %w", err)
		}
		vectors = qdrant
	default:
		vectors = retrieval.NewSQLiteStore(store.DB())
	}
	slog.Info("vector backend ready", "backend", cfg.Vectors.Backend)

	// Chatbot core.
	loader := source.NewLoader(nil)
	chunker, err := chunk.New(chunk.DefaultSize, chunk.DefaultOverlap)
	if err != nil {
		return fmt.Errorf("building chunker: %w", err)
	}
	embedder := retrieval.NewEmbedder(openaiClient, cfg.OpenAI.EmbedModel)
	indexer := retrieval.NewIndexer(embedder, vectors)
	retriever := retrieval.NewRetriever(embedder, vectors)
	chatbots := chatbot.NewService(store, loader, chunker, indexer, retriever, vectors, openaiClient, cfg.Vectors.TopK)

	// Narration pipeline.
	narrations, err := narration.NewPipeline(loader, openaiClient, ttsClient, store, cfg.OpenAI.ChatModel)
	if err != nil {
		return fmt.Errorf("building narration pipeline: %w", err)
	}

	handler := api.NewAppHandler(api.AppDeps{
		Chatbots:   chatbots,
		Narrations: narrations,
		Token:      cfg.API.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over streamable HTTP on its own port.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Chatbots:   chatbots,
		Narrations: narrations,
	})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	httpMCP := server.NewStreamableHTTPServer(mcpSrv)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := httpMCP.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "docbot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpMCP.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Chat model", "%s", cfg.OpenAI.ChatModel)
	printStatus("Embed model", "%s", cfg.OpenAI.EmbedModel)
	printStatus("Vector backend", "%s", cfg.Vectors.Backend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
