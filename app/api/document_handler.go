package api

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"planbook/ingest"
	"planbook/model"
	"planbook/service"
	"planbook/store"
	"planbook/types"
)

type DocumentHandler struct {
	svc          *service.Service
	contextStore store.DBStorer
	embedder     model.Embedder
}

func NewDocumentHandler(svc *service.Service, contextStore store.DBStorer, embedder model.Embedder) *DocumentHandler {
	return &DocumentHandler{
		svc:          svc,
		contextStore: contextStore,
		embedder:     embedder,
	}
}

type documentResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	MediaType    string    `json:"media_type"`
	ByteSize     int64     `json:"byte_size"`
	IsAiReadable bool      `json:"is_ai_readable"`
	IsYearPlan   bool      `json:"is_year_plan"`
	CreatedAt    time.Time `json:"created_at"`
}

type chunkResponse struct {
	ID       string  `json:"id"`
	Index    int     `json:"index"`
	Content  string  `json:"content"`
	Year     *int64  `json:"year"`
	Month    *int64  `json:"month"`
	Week     *int64  `json:"week"`
	Section  string  `json:"section,omitempty"`
	Distance float64 `json:"distance,omitempty"`
}

func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	params := types.UploadParams{
		Name:           c.FormValue("name"),
		UserID:         c.FormValue("user_id"),
		OrganizationID: c.FormValue("organization_id"),
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	mediaType := c.FormValue("media_type")
	if mediaType == "" {
		mediaType = fileHeader.Header.Get("Content-Type")
	}

	in := service.UploadInput{
		Name:         params.Name,
		OriginalName: fileHeader.Filename,
		MediaType:    mediaType,
		Data:         data,
	}
	if params.UserID != "" {
		in.UserID = uuid.NullUUID{UUID: uuid.MustParse(params.UserID), Valid: true}
	} else {
		in.OrgID = uuid.NullUUID{UUID: uuid.MustParse(params.OrganizationID), Valid: true}
	}

	doc, err := h.svc.Upload(c.Context(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toDocumentResponse(doc))
}

func (h *DocumentHandler) HandleEnableAiReadable(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	result, err := h.svc.EnableAiReadable(c.Context(), docID)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *DocumentHandler) HandleDisableAiReadable(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	if err := h.svc.DisableAiReadable(c.Context(), docID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"is_ai_readable": false})
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	if err := h.svc.DeleteDocument(c.Context(), docID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleLookup is the exact temporal lookup: all three address parts are
// required, a miss is an empty list.
func (h *DocumentHandler) HandleLookup(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	var params types.LookupParams
	if err := c.QueryParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	chunks, err := h.contextStore.LookupChunks(c.Context(), docID, params.Year, params.Month, params.Week)
	if err != nil {
		return err
	}
	return c.JSON(toChunkResponses(chunks))
}

// HandleSearch embeds the query and runs filtered KNN over the document.
// A document with no embedded chunks answers with an empty list.
func (h *DocumentHandler) HandleSearch(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	var params types.SearchParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	vector, err := h.embedder.Embed(c.Context(), ingest.CleanText(params.Query))
	if err != nil {
		return err
	}

	filter := store.SearchFilter{Year: params.Year, Month: params.Month, Week: params.Week}
	chunks, err := h.contextStore.SearchChunks(c.Context(), docID, vector, filter, params.Limit)
	if err != nil {
		return err
	}
	return c.JSON(toChunkResponses(chunks))
}

func toDocumentResponse(doc *types.Document) documentResponse {
	return documentResponse{
		ID:           doc.ID.String(),
		Name:         doc.Name,
		OriginalName: doc.OriginalName,
		MediaType:    doc.MediaType,
		ByteSize:     doc.ByteSize,
		IsAiReadable: doc.IsAiReadable,
		IsYearPlan:   doc.IsYearPlan,
		CreatedAt:    doc.CreatedAt,
	}
}

func toChunkResponses(chunks []types.Chunk) []chunkResponse {
	out := make([]chunkResponse, len(chunks))
	for i, ch := range chunks {
		out[i] = chunkResponse{
			ID:       ch.ID.String(),
			Index:    ch.Index,
			Content:  ch.Content,
			Section:  ch.Meta.Section,
			Distance: ch.Distance,
		}
		if ch.Addr.Year.Valid {
			out[i].Year = &ch.Addr.Year.Int64
		}
		if ch.Addr.Month.Valid {
			out[i].Month = &ch.Addr.Month.Int64
		}
		if ch.Addr.Week.Valid {
			out[i].Week = &ch.Addr.Week.Int64
		}
	}
	return out
}
