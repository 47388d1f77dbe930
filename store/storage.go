package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"planbook/types"
)

// DefaultBatchSize bounds the number of chunk rows per insert statement.
const DefaultBatchSize = 50

// SearchFilter narrows semantic search by temporal address. Each field is
// independently optional.
type SearchFilter struct {
	Year  *int
	Month *int
	Week  *int
}

type DBStorer interface {
	SaveDocument(context.Context, types.Document) error
	GetDocumentByID(context.Context, uuid.UUID) (*types.Document, error)
	DeleteDocument(context.Context, uuid.UUID) error
	DemoteYearPlan(ctx context.Context, userID, orgID uuid.NullUUID) error
	GetUserYearPlan(context.Context, uuid.UUID) (*types.Document, error)
	GetOrgYearPlan(context.Context, uuid.UUID) (*types.Document, error)

	ClaimEmbedding(ctx context.Context, docID, token uuid.UUID) (bool, error)
	ReleaseEmbedding(ctx context.Context, docID, token uuid.UUID) error
	SetAiReadable(ctx context.Context, docID uuid.UUID, readable bool) error

	SaveChunkBatches(context.Context, []types.Chunk) error
	CountEmbeddedChunks(context.Context, uuid.UUID) (int, error)
	LookupChunks(ctx context.Context, docID uuid.UUID, year, month, week int) ([]types.Chunk, error)
	SearchChunks(ctx context.Context, docID uuid.UUID, vector []float32, filter SearchFilter, limit int) ([]types.Chunk, error)
	PlanCoverage(context.Context, uuid.UUID) ([]types.TemporalAddress, error)

	TimesheetSummary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*types.TimesheetSummary, error)
	BudgetSummary(ctx context.Context, userID uuid.UUID, orgID uuid.NullUUID, from, to time.Time) (*types.BudgetSummary, error)
	PerformanceSummary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*types.PerformanceSummary, error)
}

type PostgresStore struct {
	pool      *pgxpool.Pool
	batchSize int
	logger    *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:      pool,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}, nil
}

// SetBatchSize overrides the rows-per-insert bound for chunk writes.
func (p *PostgresStore) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

const documentColumns = `id, user_id, organization_id, name, original_name, media_type, byte_size, is_ai_readable, is_year_plan, embed_claim, created_at, updated_at`

func (p *PostgresStore) SaveDocument(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_ai_readable = EXCLUDED.is_ai_readable,
			is_year_plan = EXCLUDED.is_year_plan,
			updated_at = EXCLUDED.updated_at
			`
	_, err := p.pool.Exec(
		ctx,
		query,
		doc.ID,
		doc.UserID,
		doc.OrgID,
		doc.Name,
		doc.OriginalName,
		doc.MediaType,
		doc.ByteSize,
		doc.IsAiReadable,
		doc.IsYearPlan,
		doc.EmbedClaim,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	return err
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error) {
	return p.queryDocument(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", docID)
}

// GetUserYearPlan resolves the personal year-plan slot: user-owned, no
// organization attached.
func (p *PostgresStore) GetUserYearPlan(ctx context.Context, userID uuid.UUID) (*types.Document, error) {
	return p.queryDocument(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE user_id = $1 AND organization_id IS NULL AND is_year_plan",
		userID)
}

// GetOrgYearPlan resolves the organization-wide year-plan slot.
func (p *PostgresStore) GetOrgYearPlan(ctx context.Context, orgID uuid.UUID) (*types.Document, error) {
	return p.queryDocument(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE organization_id = $1 AND user_id IS NULL AND is_year_plan",
		orgID)
}

func (p *PostgresStore) queryDocument(ctx context.Context, query string, arg any) (*types.Document, error) {
	rows, err := p.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, sql.ErrNoRows
	}

	doc := &types.Document{}
	if err := rows.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.OrgID,
		&doc.Name,
		&doc.OriginalName,
		&doc.MediaType,
		&doc.ByteSize,
		&doc.IsAiReadable,
		&doc.IsYearPlan,
		&doc.EmbedClaim,
		&doc.CreatedAt,
		&doc.UpdatedAt); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes the document row; chunk rows go with it through the
// FK cascade.
func (p *PostgresStore) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", docID)
	return err
}

// DemoteYearPlan clears the year-plan flag on the current holder of the
// given owner slot, keeping the at-most-one invariant when a new plan
// arrives.
func (p *PostgresStore) DemoteYearPlan(ctx context.Context, userID, orgID uuid.NullUUID) error {
	var err error
	if userID.Valid {
		_, err = p.pool.Exec(ctx,
			"UPDATE documents SET is_year_plan = false, updated_at = now() WHERE user_id = $1 AND organization_id IS NULL AND is_year_plan",
			userID.UUID)
	} else if orgID.Valid {
		_, err = p.pool.Exec(ctx,
			"UPDATE documents SET is_year_plan = false, updated_at = now() WHERE organization_id = $1 AND user_id IS NULL AND is_year_plan",
			orgID.UUID)
	}
	return err
}

// ClaimEmbedding is the claim-before-write guard around the embedding
// pipeline: the first caller to set the token wins, concurrent callers see
// false and short-circuit.
func (p *PostgresStore) ClaimEmbedding(ctx context.Context, docID, token uuid.UUID) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		"UPDATE documents SET embed_claim = $2, updated_at = now() WHERE id = $1 AND embed_claim IS NULL",
		docID, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) ReleaseEmbedding(ctx context.Context, docID, token uuid.UUID) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE documents SET embed_claim = NULL, updated_at = now() WHERE id = $1 AND embed_claim = $2",
		docID, token)
	return err
}

func (p *PostgresStore) SetAiReadable(ctx context.Context, docID uuid.UUID, readable bool) error {
	_, err := p.pool.Exec(ctx,
		"UPDATE documents SET is_ai_readable = $2, updated_at = now() WHERE id = $1",
		docID, readable)
	return err
}

// SaveChunkBatches persists chunk rows in fixed-size batches, one insert per
// batch, sequentially. Inserts are keyed by generated id with
// ON CONFLICT DO NOTHING, so a retried batch is a no-op. The first failing
// batch aborts the rest; rows from earlier batches stay.
func (p *PostgresStore) SaveChunkBatches(ctx context.Context, chunks []types.Chunk) error {
	for bi, batch := range PartitionChunks(chunks, p.batchSize) {
		if err := p.saveChunkBatch(ctx, batch); err != nil {
			return &types.BatchWriteFailure{Batch: bi, Err: err}
		}
	}
	return nil
}

// PartitionChunks splits chunks into batches of at most size rows.
func PartitionChunks(chunks []types.Chunk, size int) [][]types.Chunk {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]types.Chunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}
	return batches
}

func (p *PostgresStore) saveChunkBatch(ctx context.Context, batch []types.Chunk) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO chunks (id, doc_id, position, content, year, month, week, metadata, embedding) VALUES ")

	args := make([]any, 0, len(batch)*9)
	for i, c := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			c.ID, c.DocID, c.Index, c.Content,
			c.Addr.Year, c.Addr.Month, c.Addr.Week,
			c.Meta, vectorParam(c.Embedding))
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")

	_, err := p.pool.Exec(ctx, sb.String(), args...)
	return err
}

func vectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func (p *PostgresStore) CountEmbeddedChunks(ctx context.Context, docID uuid.UUID) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM chunks WHERE doc_id = $1 AND embedding IS NOT NULL",
		docID).Scan(&count)
	return count, err
}

// LookupChunks is the exact temporal lookup: all chunks of the document
// whose address equals the input, in (year, month, week, position) order.
func (p *PostgresStore) LookupChunks(ctx context.Context, docID uuid.UUID, year, month, week int) ([]types.Chunk, error) {
	query := `
		SELECT id, doc_id, position, content, year, month, week, metadata, created_at
		FROM chunks
		WHERE doc_id = $1 AND year = $2 AND month = $3 AND week = $4
		ORDER BY year, month, week, position
	`
	rows, err := p.pool.Query(ctx, query, docID, year, month, week)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var chunk types.Chunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocID,
			&chunk.Index,
			&chunk.Content,
			&chunk.Addr.Year,
			&chunk.Addr.Month,
			&chunk.Addr.Week,
			&chunk.Meta,
			&chunk.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// SearchChunks runs cosine KNN over the document's embedded chunks. Rows
// with a null embedding are never candidates; the optional filters narrow by
// temporal address.
func (p *PostgresStore) SearchChunks(ctx context.Context, docID uuid.UUID, vector []float32, filter SearchFilter, limit int) ([]types.Chunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, doc_id, position, content, year, month, week, metadata, created_at,
		       1-(embedding <=> $2) AS distance
		FROM chunks
		WHERE doc_id = $1 AND embedding IS NOT NULL
	`
	args := []any{docID, pgvector.NewVector(vector)}

	if filter.Year != nil {
		args = append(args, *filter.Year)
		query += fmt.Sprintf(" AND year = $%d", len(args))
	}
	if filter.Month != nil {
		args = append(args, *filter.Month)
		query += fmt.Sprintf(" AND month = $%d", len(args))
	}
	if filter.Week != nil {
		args = append(args, *filter.Week)
		query += fmt.Sprintf(" AND week = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $2 LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var chunk types.Chunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocID,
			&chunk.Index,
			&chunk.Content,
			&chunk.Addr.Year,
			&chunk.Addr.Month,
			&chunk.Addr.Week,
			&chunk.Meta,
			&chunk.CreatedAt,
			&chunk.Distance); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// PlanCoverage lists the distinct addressed periods of a document, for
// summarizing what the plan covers without inlining chunk text.
func (p *PostgresStore) PlanCoverage(ctx context.Context, docID uuid.UUID) ([]types.TemporalAddress, error) {
	query := `
		SELECT DISTINCT year, month, week
		FROM chunks
		WHERE doc_id = $1 AND year IS NOT NULL
		ORDER BY year, month, week
	`
	rows, err := p.pool.Query(ctx, query, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []types.TemporalAddress
	for rows.Next() {
		var addr types.TemporalAddress
		if err := rows.Scan(&addr.Year, &addr.Month, &addr.Week); err != nil {
			return nil, err
		}
		periods = append(periods, addr)
	}
	return periods, rows.Err()
}

func (p *PostgresStore) TimesheetSummary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*types.TimesheetSummary, error) {
	var s types.TimesheetSummary
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(hours), 0), COUNT(*)
		 FROM timesheet_entries
		 WHERE user_id = $1 AND entry_date >= $2 AND entry_date < $3`,
		userID, from, to).Scan(&s.TotalHours, &s.Entries)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) BudgetSummary(ctx context.Context, userID uuid.UUID, orgID uuid.NullUUID, from, to time.Time) (*types.BudgetSummary, error) {
	query := `SELECT COALESCE(SUM(planned), 0), COALESCE(SUM(actual), 0), COUNT(*)
		 FROM budget_lines
		 WHERE user_id = $1 AND period >= $2 AND period < $3`
	arg := any(userID)
	if orgID.Valid {
		query = `SELECT COALESCE(SUM(planned), 0), COALESCE(SUM(actual), 0), COUNT(*)
		 FROM budget_lines
		 WHERE organization_id = $1 AND period >= $2 AND period < $3`
		arg = orgID.UUID
	}

	var s types.BudgetSummary
	if err := p.pool.QueryRow(ctx, query, arg, from, to).Scan(&s.Planned, &s.Actual, &s.Lines); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) PerformanceSummary(ctx context.Context, userID uuid.UUID, from, to time.Time) (*types.PerformanceSummary, error) {
	var s types.PerformanceSummary
	err := p.pool.QueryRow(ctx,
		`SELECT
			COALESCE((SELECT SUM(hours) FROM timesheet_entries WHERE user_id = $1 AND entry_date >= $2 AND entry_date < $3), 0),
			COALESCE((SELECT SUM(planned) FROM budget_lines WHERE user_id = $1 AND period >= $2 AND period < $3), 0),
			COALESCE((SELECT SUM(actual) FROM budget_lines WHERE user_id = $1 AND period >= $2 AND period < $3), 0)`,
		userID, from, to).Scan(&s.LoggedHours, &s.PlannedAmount, &s.ActualAmount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) createTables(ctx context.Context) error {

	query := `
    CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		user_id UUID,
		organization_id UUID,
		name TEXT NOT NULL,
		original_name TEXT,
		media_type TEXT NOT NULL,
		byte_size BIGINT NOT NULL DEFAULT 0,
		is_ai_readable BOOLEAN NOT NULL DEFAULT false,
		is_year_plan BOOLEAN NOT NULL DEFAULT false,
		embed_claim UUID,
		created_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE,
		CHECK ((user_id IS NULL) <> (organization_id IS NULL))
	);

	-- one year plan per personal slot and per organization slot
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_user_year_plan
		ON documents(user_id) WHERE is_year_plan AND organization_id IS NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_org_year_plan
		ON documents(organization_id) WHERE is_year_plan AND user_id IS NULL;

    CREATE TABLE IF NOT EXISTS chunks (
        id UUID PRIMARY KEY,
        doc_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
        position INT NOT NULL,
        content TEXT NOT NULL,
        year INT,
        month INT,
        week INT,
        metadata JSONB,
        embedding vector(768),
        created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
    );

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_address ON chunks(doc_id, year, month, week);

	CREATE TABLE IF NOT EXISTS timesheet_entries (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		organization_id UUID,
		entry_date DATE NOT NULL,
		hours NUMERIC NOT NULL,
		project TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_timesheet_user_date ON timesheet_entries(user_id, entry_date);

	CREATE TABLE IF NOT EXISTS budget_lines (
		id UUID PRIMARY KEY,
		user_id UUID,
		organization_id UUID,
		period DATE NOT NULL,
		category TEXT,
		planned NUMERIC NOT NULL DEFAULT 0,
		actual NUMERIC NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_budget_period ON budget_lines(period);
    `
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createTables(ctx)
}

// Close закрывает пул подключений
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("postgres connection pool is closed")
	}
	return nil
}
