package ingest

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"planbook/types"
)

// Plan markers recognized in headings and table cells. Year is the plan
// year ordinal, not a calendar year.
var (
	yearMarkerRe  = regexp.MustCompile(`(?i)\byear\s+(\d{1,2})\b`)
	monthMarkerRe = regexp.MustCompile(`(?i)\bmonth\s+(\d{1,2})\b`)
	weekMarkerRe  = regexp.MustCompile(`(?i)\bweek\s+(\d{1,2})\b`)
)

// minYearPlanMarkers is the marker density below which a document is not
// considered a year plan.
const minYearPlanMarkers = 3

// ParseResult is the chunker output for one document. Chunk indices are
// contiguous from 0 in parse order; DocID and row ids are assigned later by
// the writer.
type ParseResult struct {
	Chunks     []types.Chunk
	IsYearPlan bool
}

type Chunker struct {
	chunkSize int
	overlap   int
	converter Converter
}

func NewChunker(cfg types.Config, converter Converter) *Chunker {
	size := cfg.ChunkSize
	if size <= 0 {
		size = 200
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{
		chunkSize: size,
		overlap:   overlap,
		converter: converter,
	}
}

// Parse turns raw bytes into ordered chunks with optional temporal
// addresses. Unsupported media types and corrupt content fail with
// ParseError; nothing partial is produced.
func (c *Chunker) Parse(ctx context.Context, data []byte, mediaType string) (*ParseResult, error) {
	var (
		text   string
		format string
		err    error
	)

	switch mediaType {
	case types.MediaPlainText, types.MediaMarkdown:
		if !utf8.Valid(data) {
			return nil, &types.ParseError{MediaType: mediaType, Reason: "not valid utf-8"}
		}
		text, format = string(data), "text"

	case types.MediaDocx:
		text, err = extractDocxText(data)
		if err != nil {
			return nil, err
		}
		format = "docx"

	case types.MediaPDF:
		prepared, perr := preparePDF(data)
		if perr != nil {
			return nil, perr
		}
		text, err = c.converter.Convert(ctx, "upload.pdf", prepared)
		if err != nil {
			return nil, &types.ParseError{MediaType: mediaType, Reason: "converter failed", Err: err}
		}
		format = "pdf"

	case types.MediaDoc:
		text, err = c.converter.Convert(ctx, "upload.doc", data)
		if err != nil {
			return nil, &types.ParseError{MediaType: mediaType, Reason: "converter failed", Err: err}
		}
		format = "doc"

	default:
		return nil, &types.ParseError{MediaType: mediaType, Reason: "unsupported media type"}
	}

	return c.segment(text, format), nil
}

// segment walks the document line by line. Marker-bearing headings and table
// rows advance the temporal address state; body text under the current
// address is window-chunked by words.
func (c *Chunker) segment(text, format string) *ParseResult {
	var (
		chunks   []types.Chunk
		addr     types.TemporalAddress
		section  string
		buf      []string
		index    int
		markers  int
		yearSeen bool
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		body := strings.Join(buf, "\n")
		buf = buf[:0]
		c.addTextChunks(&chunks, body, addr, section, format, &index)
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			buf = append(buf, "")

		case isTableSeparator(trimmed):
			// |---|---| decoration

		case isTableRow(trimmed):
			cells := splitRow(trimmed)
			if n, sawYear := countMarkers(cells); n > 0 {
				flush()
				applyMarkers(&addr, cells)
				markers += n
				yearSeen = yearSeen || sawYear
			}
			buf = append(buf, strings.Join(cells, " "))

		case isHeading(trimmed):
			flush()
			heading := strings.TrimLeft(trimmed, "# ")
			n, sawYear := countMarkers([]string{heading})
			applyMarkers(&addr, []string{heading})
			markers += n
			yearSeen = yearSeen || sawYear
			section = heading

		default:
			buf = append(buf, line)
		}
	}
	flush()

	return &ParseResult{
		Chunks:     chunks,
		IsYearPlan: markers >= minYearPlanMarkers && yearSeen,
	}
}

// addTextChunks window-chunks text by words, carrying the overlap between
// consecutive windows.
func (c *Chunker) addTextChunks(chunks *[]types.Chunk, text string, addr types.TemporalAddress, section, format string, index *int) {
	words := strings.Fields(text)

	for i := 0; i < len(words); i += c.chunkSize - c.overlap {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}

		content := strings.Join(words[i:end], " ")
		if strings.TrimSpace(content) == "" {
			continue
		}

		*chunks = append(*chunks, types.Chunk{
			Index:   *index,
			Content: content,
			Addr:    addr,
			Meta: types.ChunkMeta{
				Section:      section,
				SourceFormat: format,
			},
		})
		*index++

		if end == len(words) {
			break
		}
	}
}

// isHeading accepts markdown headings and short standalone marker lines
// ("Year 1", "Month 3, Week 2").
func isHeading(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	if len(line) > 64 || len(strings.Fields(line)) > 8 {
		return false
	}
	n, _ := countMarkers([]string{line})
	return n > 0
}

func isTableRow(line string) bool {
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

func isTableSeparator(line string) bool {
	return isTableRow(line) && strings.Trim(line, "|-: \t") == ""
}

func splitRow(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		if cell := strings.TrimSpace(p); cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}

func countMarkers(cells []string) (n int, sawYear bool) {
	for _, cell := range cells {
		if yearMarkerRe.MatchString(cell) {
			n++
			sawYear = true
		}
		if monthMarkerRe.MatchString(cell) {
			n++
		}
		if weekMarkerRe.MatchString(cell) {
			n++
		}
	}
	return n, sawYear
}

// applyMarkers advances the address state hierarchically: a new year resets
// month and week, a new month resets week. Out-of-range ordinals are
// ignored, the chunk keeps whatever address is currently valid.
func applyMarkers(addr *types.TemporalAddress, cells []string) {
	for _, cell := range cells {
		if m := yearMarkerRe.FindStringSubmatch(cell); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 3 {
				addr.Year.Int64, addr.Year.Valid = int64(v), true
				addr.Month.Valid = false
				addr.Week.Valid = false
			}
		}
		if m := monthMarkerRe.FindStringSubmatch(cell); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 12 {
				addr.Month.Int64, addr.Month.Valid = int64(v), true
				addr.Week.Valid = false
			}
		}
		if m := weekMarkerRe.FindStringSubmatch(cell); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 5 {
				addr.Week.Int64, addr.Week.Valid = int64(v), true
			}
		}
	}
}
