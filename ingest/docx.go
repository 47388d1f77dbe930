package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"planbook/types"
)

// extractDocxText pulls paragraph text out of word/document.xml. Each
// paragraph becomes one line so the heading scan sees document structure.
func extractDocxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &types.ParseError{MediaType: types.MediaDocx, Reason: "not a zip archive", Err: err}
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", &types.ParseError{MediaType: types.MediaDocx, Reason: "cannot open document.xml", Err: err}
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", &types.ParseError{MediaType: types.MediaDocx, Reason: "cannot read document.xml", Err: err}
		}
		return parseDocumentXML(content)
	}
	return "", &types.ParseError{MediaType: types.MediaDocx, Reason: "word/document.xml missing"}
}

type documentXML struct {
	Body struct {
		Paragraphs []paragraphXML `xml:"p"`
	} `xml:"body"`
}

type paragraphXML struct {
	Runs []struct {
		Text string `xml:"t"`
	} `xml:"r"`
}

func parseDocumentXML(content []byte) (string, error) {
	var doc documentXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", &types.ParseError{MediaType: types.MediaDocx, Reason: "malformed document.xml", Err: err}
	}

	var sb strings.Builder
	for _, p := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, r := range p.Runs {
			line.WriteString(r.Text)
		}
		sb.WriteString(line.String())
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
