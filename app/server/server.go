package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"planbook/agent"
	"planbook/app/api"
	"planbook/ingest"
	"planbook/model"
	"planbook/service"
	"planbook/store"
	"planbook/types"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
	BodyLimit:    32 << 20, // uploads up to 32 MiB
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
}

func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
}

func (s *Server) Stop() {
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()
	port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
	pool, err := store.NewPostgresStore(ctx, connStr)
	if err != nil {
		log.Fatal("error to connect to Postgres database", err)
		return
	}

	if err := pool.Init(ctx); err != nil {
		log.Fatal("error to create tables", err)
		return
	}

	cfg := configFromEnv()
	pool.SetBatchSize(cfg.EmbedBatchSize)

	files, err := service.NewDiskStore(cfg.StorageDir)
	if err != nil {
		log.Fatal("error to prepare storage dir", err)
		return
	}

	var (
		converter = ingest.NewMarkdownConverter(cfg.ConverterURL)
		chunker   = ingest.NewChunker(cfg, converter)
		embedder  = model.NewOllamaEmbedder(
			os.Getenv("OLLAMA_EMBEDDING_URL"),
			os.Getenv("OLLAMA_EMBEDDING_MODEL"),
			cfg.EmbedTimeout,
		)
		svc = service.New(pool, files, chunker, embedder, cfg)

		app             = fiber.New(config)
		checkHandler    = api.NewCheckHandler()
		documentHandler = api.NewDocumentHandler(svc, pool, embedder)
		contextHandler  = api.NewContextHandler(agent.NewAggregator(pool))

		check = app.Group("/check")
		apiv1 = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/documents", documentHandler.HandleUpload)
	apiv1.Post("/documents/:id/ai-readable", documentHandler.HandleEnableAiReadable)
	apiv1.Delete("/documents/:id/ai-readable", documentHandler.HandleDisableAiReadable)
	apiv1.Delete("/documents/:id", documentHandler.HandleDelete)
	apiv1.Get("/documents/:id/chunks", documentHandler.HandleLookup)
	apiv1.Post("/documents/:id/search", documentHandler.HandleSearch)
	apiv1.Get("/context", contextHandler.HandleQueryContext)

	err = app.Listen(s.listenAddr)
	if err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return
	}
}

func configFromEnv() types.Config {
	cfg := types.DefaultConfig()
	if v, err := strconv.Atoi(os.Getenv("CHUNK_SIZE")); err == nil && v > 0 {
		cfg.ChunkSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("CHUNK_OVERLAP")); err == nil && v >= 0 {
		cfg.ChunkOverlap = v
	}
	if v, err := strconv.Atoi(os.Getenv("EMBED_BATCH_SIZE")); err == nil && v > 0 {
		cfg.EmbedBatchSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("EMBED_FANOUT")); err == nil && v > 0 {
		cfg.EmbedFanout = v
	}
	if v, err := strconv.Atoi(os.Getenv("EMBED_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.EmbedTimeout = time.Duration(v) * time.Second
	}
	if v := os.Getenv("CONVERTER_URL"); v != "" {
		cfg.ConverterURL = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	return cfg
}
