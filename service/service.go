package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"planbook/ingest"
	"planbook/model"
	"planbook/store"
	"planbook/types"
)

// Service orchestrates the document pipeline: upload, the AI-readability
// lifecycle and deletion. Retrieval goes straight to the store.
type Service struct {
	logger   *slog.Logger
	store    store.DBStorer
	files    FileStorer
	chunker  *ingest.Chunker
	embedder model.Embedder
	cfg      types.Config
}

func New(storer store.DBStorer, files FileStorer, chunker *ingest.Chunker, embedder model.Embedder, cfg types.Config) *Service {
	return &Service{
		logger:   slog.Default(),
		store:    storer,
		files:    files,
		chunker:  chunker,
		embedder: embedder,
		cfg:      cfg,
	}
}

// UploadInput carries one uploaded file and its owner scope. Exactly one of
// UserID / OrgID is set; the handler validates that.
type UploadInput struct {
	Name         string
	OriginalName string
	MediaType    string
	Data         []byte
	UserID       uuid.NullUUID
	OrgID        uuid.NullUUID
}

// Upload parses the document, stores the raw bytes and records the Document.
// A ParseError aborts the whole upload, nothing is persisted. Year-plan
// structure detected during parsing is written onto the Document; a new year
// plan demotes the previous holder of the same owner slot.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*types.Document, error) {
	result, err := s.chunker.Parse(ctx, in.Data, in.MediaType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	doc := types.Document{
		ID:           uuid.New(),
		UserID:       in.UserID,
		OrgID:        in.OrgID,
		Name:         in.Name,
		OriginalName: in.OriginalName,
		MediaType:    in.MediaType,
		ByteSize:     int64(len(in.Data)),
		IsYearPlan:   result.IsYearPlan,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if doc.Name == "" {
		doc.Name = in.OriginalName
	}

	if result.IsYearPlan {
		if err := s.store.DemoteYearPlan(ctx, in.UserID, in.OrgID); err != nil {
			return nil, fmt.Errorf("demote previous year plan: %w", err)
		}
	}

	if err := s.files.Save(ctx, doc.ID.String(), in.Data); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("document uploaded",
		"doc_id", doc.ID, "media_type", doc.MediaType,
		"chunks", len(result.Chunks), "year_plan", doc.IsYearPlan)
	return &doc, nil
}

type EnableResult struct {
	IsAiReadable   bool `json:"is_ai_readable"`
	EmbeddingCount int  `json:"embedding_count"`
}

// EnableAiReadable runs the embedding pipeline for a document. Idempotent in
// intent: if embedded chunks already exist the pipeline is skipped and the
// pre-existing count reported. Concurrent enables are serialized by the
// claim token on the Document; losers short-circuit with the current state.
func (s *Service) EnableAiReadable(ctx context.Context, docID uuid.UUID) (*EnableResult, error) {
	doc, err := s.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountEmbeddedChunks(ctx, docID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		if err := s.store.SetAiReadable(ctx, docID, true); err != nil {
			return nil, err
		}
		s.logger.Info("embeddings already present, skipping regeneration", "doc_id", docID, "count", count)
		return &EnableResult{IsAiReadable: true, EmbeddingCount: count}, nil
	}

	token := uuid.New()
	claimed, err := s.store.ClaimEmbedding(ctx, docID, token)
	if err != nil {
		return nil, err
	}
	if !claimed {
		s.logger.Info("embedding already in progress", "doc_id", docID)
		return &EnableResult{IsAiReadable: doc.IsAiReadable, EmbeddingCount: count}, nil
	}

	result, err := s.runEmbeddingPipeline(ctx, doc)
	if err != nil {
		if rerr := s.store.ReleaseEmbedding(ctx, docID, token); rerr != nil {
			s.logger.Error("release embedding claim", "doc_id", docID, "error", rerr)
		}
		return nil, err
	}

	if err := s.store.SetAiReadable(ctx, docID, true); err != nil {
		return nil, err
	}
	if err := s.store.ReleaseEmbedding(ctx, docID, token); err != nil {
		s.logger.Error("release embedding claim", "doc_id", docID, "error", err)
	}
	return result, nil
}

func (s *Service) runEmbeddingPipeline(ctx context.Context, doc *types.Document) (*EnableResult, error) {
	data, err := s.files.Load(ctx, doc.ID.String())
	if err != nil {
		return nil, fmt.Errorf("load document bytes: %w", err)
	}

	parsed, err := s.chunker.Parse(ctx, data, doc.MediaType)
	if err != nil {
		return nil, err
	}

	embedded := s.embedChunks(ctx, doc.ID, parsed.Chunks)

	if err := s.store.SaveChunkBatches(ctx, parsed.Chunks); err != nil {
		return nil, err
	}

	s.logger.Info("embedding pipeline finished",
		"doc_id", doc.ID, "chunks", len(parsed.Chunks), "embedded", embedded)
	return &EnableResult{IsAiReadable: true, EmbeddingCount: embedded}, nil
}

// embedChunks assigns row ids and fills embeddings in place with a bounded
// fan-out. Per-chunk failures leave a nil embedding and never block
// siblings; empty-after-cleaning chunks are skipped without an attempt.
// Returns how many chunks got a vector.
func (s *Service) embedChunks(ctx context.Context, docID uuid.UUID, chunks []types.Chunk) int {
	now := time.Now()

	sem := make(chan struct{}, s.cfg.EmbedFanout)
	var wg sync.WaitGroup

	for i := range chunks {
		chunks[i].ID = uuid.New()
		chunks[i].DocID = docID
		chunks[i].CreatedAt = now

		cleaned := ingest.CleanText(chunks[i].Content)
		if cleaned == "" {
			continue
		}

		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := s.embedder.Embed(ctx, text)
			if err != nil {
				s.logger.Warn("chunk embedding failed",
					"doc_id", docID, "error", (&types.EmbeddingFailure{ChunkIndex: chunks[i].Index, Err: err}).Error())
				return
			}
			chunks[i].Embedding = vec
		}(i, cleaned)
	}
	wg.Wait()

	embedded := 0
	for i := range chunks {
		if chunks[i].Embedding != nil {
			embedded++
		}
	}
	return embedded
}

// DisableAiReadable flips the flag off. Existing embeddings stay dormant so
// a later re-enable does not regenerate them.
func (s *Service) DisableAiReadable(ctx context.Context, docID uuid.UUID) error {
	return s.store.SetAiReadable(ctx, docID, false)
}

// DeleteDocument removes the document and its chunks. A failed object-store
// delete is logged and does not block the metadata deletion.
func (s *Service) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	if err := s.files.Delete(ctx, docID.String()); err != nil {
		storageErr := &types.StorageUnavailable{Path: docID.String(), Err: err}
		s.logger.Warn("object store delete failed, proceeding", "error", storageErr.Error())
	}
	return s.store.DeleteDocument(ctx, docID)
}
