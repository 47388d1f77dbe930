package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planbook/ingest"
	"planbook/store"
	"planbook/types"
)

type fakeStore struct {
	mu sync.Mutex

	doc           *types.Document
	embeddedCount int
	claimOK       bool

	saved       []types.Chunk
	saveErr     error
	setReadable []bool
	claimCalled bool
	released    bool
	demoted     bool
	deleted     bool
	savedDocs   []types.Document
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimOK: true}
}

func (f *fakeStore) SaveDocument(_ context.Context, doc types.Document) error {
	f.savedDocs = append(f.savedDocs, doc)
	return nil
}

func (f *fakeStore) GetDocumentByID(_ context.Context, id uuid.UUID) (*types.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, errors.New("no rows")
	}
	return f.doc, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, _ uuid.UUID) error {
	f.deleted = true
	return nil
}

func (f *fakeStore) DemoteYearPlan(_ context.Context, _, _ uuid.NullUUID) error {
	f.demoted = true
	return nil
}

func (f *fakeStore) GetUserYearPlan(_ context.Context, _ uuid.UUID) (*types.Document, error) {
	return nil, errors.New("no rows")
}

func (f *fakeStore) GetOrgYearPlan(_ context.Context, _ uuid.UUID) (*types.Document, error) {
	return nil, errors.New("no rows")
}

func (f *fakeStore) ClaimEmbedding(_ context.Context, _, _ uuid.UUID) (bool, error) {
	f.claimCalled = true
	return f.claimOK, nil
}

func (f *fakeStore) ReleaseEmbedding(_ context.Context, _, _ uuid.UUID) error {
	f.released = true
	return nil
}

func (f *fakeStore) SetAiReadable(_ context.Context, _ uuid.UUID, readable bool) error {
	f.setReadable = append(f.setReadable, readable)
	return nil
}

func (f *fakeStore) SaveChunkBatches(_ context.Context, chunks []types.Chunk) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, chunks...)
	return nil
}

func (f *fakeStore) CountEmbeddedChunks(_ context.Context, _ uuid.UUID) (int, error) {
	return f.embeddedCount, nil
}

func (f *fakeStore) LookupChunks(_ context.Context, _ uuid.UUID, _, _, _ int) ([]types.Chunk, error) {
	return nil, nil
}

func (f *fakeStore) SearchChunks(_ context.Context, _ uuid.UUID, _ []float32, _ store.SearchFilter, _ int) ([]types.Chunk, error) {
	return nil, nil
}

func (f *fakeStore) PlanCoverage(_ context.Context, _ uuid.UUID) ([]types.TemporalAddress, error) {
	return nil, nil
}

func (f *fakeStore) TimesheetSummary(_ context.Context, _ uuid.UUID, _, _ time.Time) (*types.TimesheetSummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) BudgetSummary(_ context.Context, _ uuid.UUID, _ uuid.NullUUID, _, _ time.Time) (*types.BudgetSummary, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) PerformanceSummary(_ context.Context, _ uuid.UUID, _, _ time.Time) (*types.PerformanceSummary, error) {
	return nil, errors.New("not implemented")
}

type fakeFiles struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	deleteErr error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{blobs: map[string][]byte{}}
}

func (f *fakeFiles) Save(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

func (f *fakeFiles) Load(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("missing blob")
	}
	return data, nil
}

func (f *fakeFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.blobs, key)
	return nil
}

type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn func(text string) bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failOn != nil && f.failOn(text) {
		return nil, errors.New("capability rejected")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.ChunkSize = 5
	cfg.ChunkOverlap = 0
	cfg.EmbedFanout = 2
	return cfg
}

// fifty distinct words, chunk size 5: exactly ten chunks, chunk i starting
// with word w(5i).
func tenChunkText() string {
	words := make([]string, 50)
	for i := range words {
		words[i] = fmt.Sprintf("w%02d", i)
	}
	return strings.Join(words, " ")
}

func setupEnable(t *testing.T, fs *fakeStore, emb *fakeEmbedder, text string) (*Service, uuid.UUID) {
	t.Helper()

	docID := uuid.New()
	fs.doc = &types.Document{
		ID:        docID,
		UserID:    uuid.NullUUID{UUID: uuid.New(), Valid: true},
		MediaType: types.MediaPlainText,
	}

	files := newFakeFiles()
	require.NoError(t, files.Save(context.Background(), docID.String(), []byte(text)))

	cfg := testConfig()
	chunker := ingest.NewChunker(cfg, nil)
	return New(fs, files, chunker, emb, cfg), docID
}

func TestEnableAiReadable_PartialEmbeddingTolerance(t *testing.T) {
	fs := newFakeStore()
	emb := &fakeEmbedder{failOn: func(text string) bool {
		return strings.HasPrefix(text, "w15") || strings.HasPrefix(text, "w35")
	}}
	svc, docID := setupEnable(t, fs, emb, tenChunkText())

	result, err := svc.EnableAiReadable(context.Background(), docID)
	require.NoError(t, err)

	assert.True(t, result.IsAiReadable)
	assert.Equal(t, 8, result.EmbeddingCount)

	require.Len(t, fs.saved, 10)
	for _, ch := range fs.saved {
		assert.NotEqual(t, uuid.Nil, ch.ID)
		assert.Equal(t, docID, ch.DocID)
	}
	assert.Nil(t, fs.saved[3].Embedding)
	assert.Nil(t, fs.saved[7].Embedding)
	assert.NotNil(t, fs.saved[0].Embedding)

	assert.Equal(t, []bool{true}, fs.setReadable)
	assert.True(t, fs.released)
}

func TestEnableAiReadable_SkipsRegeneration(t *testing.T) {
	fs := newFakeStore()
	fs.embeddedCount = 7
	emb := &fakeEmbedder{}
	svc, docID := setupEnable(t, fs, emb, tenChunkText())

	result, err := svc.EnableAiReadable(context.Background(), docID)
	require.NoError(t, err)

	assert.True(t, result.IsAiReadable)
	assert.Equal(t, 7, result.EmbeddingCount)
	assert.Zero(t, emb.calls)
	assert.Empty(t, fs.saved)
	assert.False(t, fs.claimCalled)
	assert.Equal(t, []bool{true}, fs.setReadable)
}

func TestEnableAiReadable_ConcurrentClaimLoses(t *testing.T) {
	fs := newFakeStore()
	fs.claimOK = false
	emb := &fakeEmbedder{}
	svc, docID := setupEnable(t, fs, emb, tenChunkText())

	result, err := svc.EnableAiReadable(context.Background(), docID)
	require.NoError(t, err)

	assert.False(t, result.IsAiReadable)
	assert.Zero(t, result.EmbeddingCount)
	assert.Zero(t, emb.calls)
	assert.Empty(t, fs.saved)
	assert.Empty(t, fs.setReadable)
}

func TestEnableAiReadable_BatchWriteFailure(t *testing.T) {
	fs := newFakeStore()
	fs.saveErr = &types.BatchWriteFailure{Batch: 1, Err: errors.New("connection reset")}
	emb := &fakeEmbedder{}
	svc, docID := setupEnable(t, fs, emb, tenChunkText())

	_, err := svc.EnableAiReadable(context.Background(), docID)

	var batchErr *types.BatchWriteFailure
	require.ErrorAs(t, err, &batchErr)
	assert.Empty(t, fs.setReadable, "flag must stay off after a failed write")
	assert.True(t, fs.released, "claim must be released so a retry can proceed")
}

func TestEnableAiReadable_EmptyAfterCleaningChunkIsStoredNotEmbedded(t *testing.T) {
	fs := newFakeStore()
	emb := &fakeEmbedder{}
	text := "Week 1\n<!-- image -->\nWeek 2\nreal content words"
	svc, docID := setupEnable(t, fs, emb, text)

	result, err := svc.EnableAiReadable(context.Background(), docID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.EmbeddingCount)
	assert.Equal(t, 1, emb.calls, "boilerplate-only chunk must not reach the embedder")

	require.Len(t, fs.saved, 2)
	assert.Nil(t, fs.saved[0].Embedding)
	assert.NotNil(t, fs.saved[1].Embedding)
}

func TestUpload_ParseErrorPersistsNothing(t *testing.T) {
	fs := newFakeStore()
	files := newFakeFiles()
	cfg := testConfig()
	svc := New(fs, files, ingest.NewChunker(cfg, nil), &fakeEmbedder{}, cfg)

	_, err := svc.Upload(context.Background(), UploadInput{
		OriginalName: "photo.png",
		MediaType:    "image/png",
		Data:         []byte{1, 2, 3},
		UserID:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
	})

	var parseErr *types.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Empty(t, fs.savedDocs)
	assert.Empty(t, files.blobs)
}

func TestUpload_YearPlanDemotesPreviousHolder(t *testing.T) {
	fs := newFakeStore()
	files := newFakeFiles()
	cfg := testConfig()
	svc := New(fs, files, ingest.NewChunker(cfg, nil), &fakeEmbedder{}, cfg)

	doc, err := svc.Upload(context.Background(), UploadInput{
		Name:         "growth plan",
		OriginalName: "plan.txt",
		MediaType:    types.MediaPlainText,
		Data:         []byte("Year 1\nMonth 1\nWeek 1\nship it"),
		UserID:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
	})
	require.NoError(t, err)

	assert.True(t, doc.IsYearPlan)
	assert.True(t, fs.demoted)
	require.Len(t, fs.savedDocs, 1)
	assert.Contains(t, files.blobs, doc.ID.String())
}

func TestUpload_PlainDocumentIsNotYearPlan(t *testing.T) {
	fs := newFakeStore()
	files := newFakeFiles()
	cfg := testConfig()
	svc := New(fs, files, ingest.NewChunker(cfg, nil), &fakeEmbedder{}, cfg)

	doc, err := svc.Upload(context.Background(), UploadInput{
		OriginalName: "notes.txt",
		MediaType:    types.MediaPlainText,
		Data:         []byte("just some meeting notes"),
		OrgID:        uuid.NullUUID{UUID: uuid.New(), Valid: true},
	})
	require.NoError(t, err)

	assert.False(t, doc.IsYearPlan)
	assert.False(t, fs.demoted)
	assert.Equal(t, "notes.txt", doc.Name, "name falls back to the original filename")
}

func TestDeleteDocument_ObjectStoreFailureDoesNotBlock(t *testing.T) {
	fs := newFakeStore()
	files := newFakeFiles()
	files.deleteErr = errors.New("bucket unreachable")
	cfg := testConfig()
	svc := New(fs, files, ingest.NewChunker(cfg, nil), &fakeEmbedder{}, cfg)

	err := svc.DeleteDocument(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, fs.deleted)
}
