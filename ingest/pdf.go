package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"planbook/types"
)

// Converter turns a binary document into markdown. Implemented by the
// docling-style sidecar; faked in tests.
type Converter interface {
	Convert(ctx context.Context, filename string, data []byte) (string, error)
}

// preparePDF validates the document and crops header/footer bands so page
// furniture does not end up in chunks. Returns the cropped bytes.
func preparePDF(data []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "planbook-pdf")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "in.pdf")
	outPath := filepath.Join(tmpDir, "out.pdf")
	if err := os.WriteFile(inPath, data, 0644); err != nil {
		return nil, err
	}

	conf := api.LoadConfiguration()
	if err := api.ValidateFile(inPath, conf); err != nil {
		return nil, &types.ParseError{MediaType: types.MediaPDF, Reason: "corrupt pdf", Err: err}
	}

	// 46pt top / 57pt bottom, in points (1 pt = 1/72 inch)
	box, err := model.ParseBox("46.00 0 57.00 0", pdftypes.POINTS)
	if err != nil {
		return nil, fmt.Errorf("parse crop box: %w", err)
	}
	if err := api.CropFile(inPath, outPath, []string{"1-"}, box, conf); err != nil {
		return nil, &types.ParseError{MediaType: types.MediaPDF, Reason: "crop failed", Err: err}
	}

	return os.ReadFile(outPath)
}

// MarkdownConverter posts the file to a converter sidecar that answers with
// the document rendered as markdown.
type MarkdownConverter struct {
	url    string
	client *http.Client
}

type converterResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
}

func NewMarkdownConverter(url string) *MarkdownConverter {
	return &MarkdownConverter{
		url:    url,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *MarkdownConverter) Convert(ctx context.Context, filename string, data []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		md, err := c.convertOnce(ctx, filename, data)
		if err == nil {
			return md, nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
	}
	return "", fmt.Errorf("convert %s failed after 3 attempts: %w", filename, lastErr)
}

func (c *MarkdownConverter) convertOnce(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("converter status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var d converterResponse
	if err := json.Unmarshal(body, &d); err != nil {
		return "", err
	}
	return d.Document.MdContent, nil
}
