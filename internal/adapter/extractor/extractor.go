// Package extractor turns uploaded files and web pages into plain text.
package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"coursekb/internal/adapter/normalize"
	"coursekb/internal/domain"
	"coursekb/internal/platform/logger"
)

const maxPageBytes = 10 << 20

// Extractor implements port.Extractor for text, PDF, DOCX and HTML input.
type Extractor struct {
	client *http.Client
	log    *logger.Logger
}

func New(log *logger.Logger) *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger.OrNop(log),
	}
}

// WithClient replaces the HTTP client used by Fetch.
func (e *Extractor) WithClient(client *http.Client) *Extractor {
	e.client = client
	return e
}

// DocType returns the lowercased file extension, or "unknown".
func DocType(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

// Extract always returns a payload carrying the file name and type. On
// failure the content is empty and the error is a CollaboratorError.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (domain.UploadPayload, error) {
	payload := domain.UploadPayload{Name: filename, DocType: DocType(filename)}
	if err := ctx.Err(); err != nil {
		return payload, err
	}

	var (
		text string
		err  error
	)
	switch payload.DocType {
	case "pdf":
		text, err = extractPDF(data)
	case "docx":
		text, err = extractDOCX(data)
	default:
		text = decodeText(data)
		// pdftotext style output separates pages with form feeds
		if strings.Contains(text, "\f") {
			text = normalize.CleanText(text)
		}
	}
	if err != nil {
		return payload, domain.NewCollaboratorError("extractor", "extract "+payload.DocType, err)
	}

	if strings.TrimSpace(text) == "" {
		e.log.Warn("extracted empty text", "file", filename, "type", payload.DocType)
	}
	payload.Content = text
	return payload, nil
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "")
}

func extractPDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, content)
	}
	return normalize.CleanPages(pages), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}

	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return wordText(raw)
}

// wordText collects w:t runs. Paragraphs end a line; tabs and breaks are
// kept as whitespace.
func wordText(raw []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var (
		out    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br", "cr":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				out.Write(t)
			}
		}
	}
	return strings.TrimRight(out.String(), "\n"), nil
}
