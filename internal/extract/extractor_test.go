package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/models"
)

func newFile(name string, data []byte) *models.SubmissionFile {
	return &models.SubmissionFile{
		FileMeta: models.FileMeta{
			Name:    name,
			Size:    int64(len(data)),
			ModTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		Data: data,
	}
}

// docxBytes builds a minimal valid DOCX archive around the given paragraphs.
func docxBytes(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPlainText(t *testing.T) {
	text := NewExtractor().Extract(newFile("essay.txt", []byte("My essay about rivers.")))
	assert.Equal(t, "My essay about rivers.", text)
}

func TestExtractPlainTextInvalidUTF8(t *testing.T) {
	text := NewExtractor().Extract(newFile("essay.txt", []byte{0xff, 0xfe, 0xfd}))
	assert.True(t, IsFailure(text))
}

func TestExtractHTMLKeepsMarkup(t *testing.T) {
	markup := "<p>Online <b>text</b> answer</p>"
	text := NewExtractor().Extract(newFile("onlinetext.html", []byte(markup)))
	assert.Equal(t, markup, text, "raw markup is kept for downstream grading")
}

func TestExtractDOCX(t *testing.T) {
	data := docxBytes(t, "First paragraph.", "Second paragraph.")
	text := NewExtractor().Extract(newFile("essay.docx", data))

	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second paragraph.")
	// The HTML intermediate preserves the paragraph boundary as a line break.
	assert.NotContains(t, text, "paragraph.Second")
}

func TestExtractDOCXCorrupt(t *testing.T) {
	text := NewExtractor().Extract(newFile("essay.docx", []byte("not a zip")))
	assert.True(t, IsFailure(text))
	assert.Contains(t, text, "essay.docx")
}

func TestExtractPDFCorrupt(t *testing.T) {
	text := NewExtractor().Extract(newFile("scan.pdf", []byte("%PDF-1.4 truncated")))
	assert.True(t, IsFailure(text))
}

func TestExtractImageIsFlaggedNotDecoded(t *testing.T) {
	text := NewExtractor().Extract(newFile("diagram.png", []byte{0x89, 0x50, 0x4e, 0x47}))
	assert.True(t, IsImage(text))
	assert.Contains(t, text, "diagram.png")
}

func TestExtractUnsupportedType(t *testing.T) {
	text := NewExtractor().Extract(newFile("model.blend", []byte("binary")))
	assert.True(t, IsUnsupported(text))
	assert.False(t, IsFailure(text))
}

func TestExtensionWinsOverMIME(t *testing.T) {
	file := newFile("renamed.txt", []byte("still plain text"))
	file.MIMEType = "application/pdf"
	text := NewExtractor().Extract(file)
	assert.Equal(t, "still plain text", text)
}

func TestMIMEFallbackWithoutExtension(t *testing.T) {
	file := newFile("README", []byte("plain contents"))
	file.MIMEType = "text/plain"
	text := NewExtractor().Extract(file)
	assert.Equal(t, "plain contents", text)
}

func TestExtractCaching(t *testing.T) {
	extractor := NewExtractor()
	file := newFile("essay.txt", []byte("cached content"))

	extractor.Extract(file)
	extractor.Extract(file)

	hits, misses := extractor.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// A different identity misses even with the same name.
	other := newFile("essay.txt", []byte("cached content plus more"))
	extractor.Extract(other)
	_, misses = extractor.CacheStats()
	assert.Equal(t, int64(2), misses)
}

func TestStripHTML(t *testing.T) {
	text := StripHTML("<p>Hello</p><script>var x=1;</script><p>World</p>")
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "World")
	assert.NotContains(t, text, "var x")
}
