package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/domain"
)

func docx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDocType(t *testing.T) {
	assert.Equal(t, "pdf", DocType("Lecture 1.PDF"))
	assert.Equal(t, "md", DocType("notes/week1.md"))
	assert.Equal(t, "unknown", DocType("README"))
}

func TestExtractText(t *testing.T) {
	e := New(nil)
	got, err := e.Extract(context.Background(), "notes.md", []byte("\xef\xbb\xbf# Title\nbody \xff"))
	require.NoError(t, err)
	assert.Equal(t, domain.UploadPayload{Name: "notes.md", DocType: "md", Content: "# Title\nbody "}, got)

	got, err = e.Extract(context.Background(), "data.csv", []byte("a,b"))
	require.NoError(t, err)
	assert.Equal(t, "csv", got.DocType)
	assert.Equal(t, "a,b", got.Content)
}

func TestExtractTextWithPageBreaks(t *testing.T) {
	pages := "CS229 Notes\nGradient descent lowers the loss.\f" +
		"CS229 Notes\nMomentum smooths the updates.\f" +
		"CS229 Notes\nAdam adapts the step size."

	got, err := New(nil).Extract(context.Background(), "lecture.txt", []byte(pages))
	require.NoError(t, err)
	assert.NotContains(t, got.Content, "\f")
	assert.NotContains(t, got.Content, "CS229 Notes")
	assert.Contains(t, got.Content, "Gradient descent lowers the loss.")
	assert.Contains(t, got.Content, "Momentum smooths the updates.")
	assert.Contains(t, got.Content, "Adam adapts the step size.")
}

func TestExtractDOCX(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Chapter 1</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Gradient </w:t></w:r><w:r><w:t>descent</w:t></w:r></w:p>
</w:body>
</w:document>`

	got, err := New(nil).Extract(context.Background(), "lesson.docx", docx(t, body))
	require.NoError(t, err)
	assert.Equal(t, "docx", got.DocType)
	assert.Equal(t, "Chapter 1\nGradient descent", got.Content)
}

func TestExtractBrokenFiles(t *testing.T) {
	e := New(nil)
	for _, name := range []string{"broken.docx", "broken.pdf"} {
		got, err := e.Extract(context.Background(), name, []byte("not an archive"))
		require.Error(t, err, name)
		assert.True(t, domain.IsCollaboratorError(err))
		assert.Equal(t, name, got.Name)
		assert.Empty(t, got.Content)
	}
}

func TestValidateURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/a", "http://", "/relative/path", "example.com"} {
		_, err := ValidateURL(raw)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), raw)
	}
	_, err := ValidateURL("https://example.com/course")
	assert.NoError(t, err)
}

const page = `<html><head><title> Week 3 Notes </title><style>.x{}</style></head>
<body>
<nav class="menu">Home | About</nav>
<div class="content"><h1>Sorting</h1><p>Quicksort partitions the array.</p></div>
<script>var x = 1;</script>
<div class="content extra"><p>Mergesort is stable.</p></div>
</body></html>`

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notes":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(page))
		case "/docs/intro/":
			w.Write([]byte("<html><body><p>No title here</p></body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := New(nil).WithClient(srv.Client())

	got, err := e.Fetch(context.Background(), srv.URL+"/notes", nil)
	require.NoError(t, err)
	assert.Equal(t, "Week 3 Notes", got.Name)
	assert.Equal(t, "web", got.DocType)
	assert.Contains(t, got.Content, "Home | About")
	assert.Contains(t, got.Content, "Quicksort partitions the array.")
	assert.NotContains(t, got.Content, "var x")
	assert.NotContains(t, got.Content, "Week 3 Notes")

	got, err = e.Fetch(context.Background(), srv.URL+"/notes", []string{" content ", ""})
	require.NoError(t, err)
	assert.NotContains(t, got.Content, "Home")
	assert.Equal(t, "Sorting\nQuicksort partitions the array.\n\nMergesort is stable.", got.Content)

	got, err = e.Fetch(context.Background(), srv.URL+"/docs/intro/", nil)
	require.NoError(t, err)
	assert.Equal(t, "intro", got.Name)
	assert.Equal(t, "No title here", got.Content)

	_, err = e.Fetch(context.Background(), srv.URL+"/missing", nil)
	assert.True(t, domain.IsCollaboratorError(err))
}
