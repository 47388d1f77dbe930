package types

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	MediaPlainText = "text/plain"
	MediaMarkdown  = "text/markdown"
	MediaPDF       = "application/pdf"
	MediaDocx      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaDoc       = "application/msword"
)

// TemporalAddress ties a chunk to a period of the plan. Year is the plan
// year (1..3), not a calendar year; month and week count from plan start.
// All three fields are null for content that maps to no specific period.
type TemporalAddress struct {
	Year  sql.NullInt64
	Month sql.NullInt64
	Week  sql.NullInt64
}

func Address(year, month, week int) TemporalAddress {
	return TemporalAddress{
		Year:  sql.NullInt64{Int64: int64(year), Valid: true},
		Month: sql.NullInt64{Int64: int64(month), Valid: true},
		Week:  sql.NullInt64{Int64: int64(week), Valid: true},
	}
}

func (a TemporalAddress) IsZero() bool {
	return !a.Year.Valid && !a.Month.Valid && !a.Week.Valid
}

// ChunkMeta is the closed metadata schema stored as jsonb on each chunk.
type ChunkMeta struct {
	Section      string `json:"section,omitempty"`
	SourceFormat string `json:"source_format,omitempty"`
}

type Chunk struct {
	ID        uuid.UUID
	DocID     uuid.UUID
	Index     int
	Content   string
	Addr      TemporalAddress
	Meta      ChunkMeta
	Embedding []float32 // nil is stored as NULL and excluded from semantic search
	Distance  float64   // cosine similarity, populated on search results only
	CreatedAt time.Time
}

// Document is owned by exactly one of UserID / OrgID, never both.
type Document struct {
	ID           uuid.UUID
	UserID       uuid.NullUUID
	OrgID        uuid.NullUUID
	Name         string
	OriginalName string
	MediaType    string
	ByteSize     int64
	IsAiReadable bool
	IsYearPlan   bool
	EmbedClaim   uuid.NullUUID // claim token held while an enable operation is writing
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TimesheetSummary / BudgetSummary / PerformanceSummary are the per-month
// domain rollups the context aggregator injects next to plan knowledge.
type TimesheetSummary struct {
	TotalHours float64
	Entries    int
}

type BudgetSummary struct {
	Planned float64
	Actual  float64
	Lines   int
}

type PerformanceSummary struct {
	LoggedHours   float64
	PlannedAmount float64
	ActualAmount  float64
}

type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
	EmbedFanout    int
	EmbedTimeout   time.Duration
	ConverterURL   string
	StorageDir     string
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:      200,
		ChunkOverlap:   20,
		EmbedBatchSize: 50,
		EmbedFanout:    4,
		EmbedTimeout:   30 * time.Second,
		StorageDir:     "./storage",
	}
}
