package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/models"
)

func newSelector() *Selector {
	return NewSelector(NewExtractor(), SelectorOptions{})
}

func bucket(files ...*models.SubmissionFile) models.SubmissionBucket {
	return models.SubmissionBucket{Key: "Jane Smith_101_assignsubmission_file", Files: files}
}

func TestSelectorPrefersRichFileOverEmptyOnlineText(t *testing.T) {
	essay := strings.Repeat("A thoughtful sentence about the topic. ", 13)
	b := bucket(
		newFile("onlinetext.html", []byte("   ")),
		newFile("essay.docx", docxBytes(t, essay)),
	)

	out := newSelector().SelectAndExtract(b)

	require.NotNil(t, out.File)
	assert.Equal(t, "essay.docx", out.File.Name)
	assert.Contains(t, out.Text, "thoughtful sentence")
	assert.False(t, out.Empty)
	assert.False(t, out.NoFiles)
}

func TestSelectorNoFilesVsEmpty(t *testing.T) {
	out := newSelector().SelectAndExtract(models.SubmissionBucket{Key: "x"})
	assert.True(t, out.NoFiles)
	assert.True(t, out.Empty)

	out = newSelector().SelectAndExtract(bucket(newFile("essay.txt", []byte("  \n "))))
	assert.False(t, out.NoFiles)
	assert.True(t, out.Empty)
}

func TestSelectorFirstMeaningfulRichFileWins(t *testing.T) {
	b := bucket(
		newFile("notes.txt", []byte("short")),
		newFile("essay.txt", []byte(strings.Repeat("real submission content ", 5))),
	)

	out := newSelector().SelectAndExtract(b)
	require.NotNil(t, out.File)
	assert.Equal(t, "essay.txt", out.File.Name)
	assert.False(t, out.Empty)
}

func TestSelectorOnlineTextFallbackNeedsRatio(t *testing.T) {
	// The HTML stub is barely longer than the weak rich text, so the rich
	// result is kept and the submission counts as empty.
	b := bucket(
		newFile("notes.txt", []byte("short answer here")),
		newFile("onlinetext.html", []byte("<p>short html stub x</p>")),
	)
	out := newSelector().SelectAndExtract(b)
	require.NotNil(t, out.File)
	assert.Equal(t, "notes.txt", out.File.Name)
	assert.True(t, out.Empty)

	// A genuinely long online-text answer clears the ratio gate.
	long := "<p>" + strings.Repeat("a real online text answer ", 10) + "</p>"
	b = bucket(
		newFile("notes.txt", []byte("short answer here")),
		newFile("onlinetext.html", []byte(long)),
	)
	out = newSelector().SelectAndExtract(b)
	require.NotNil(t, out.File)
	assert.Equal(t, "onlinetext.html", out.File.Name)
	assert.False(t, out.Empty)
}

func TestSelectorRatioMeasuresStrippedContent(t *testing.T) {
	// The markup is long, but its actual content is two characters. The
	// genuine short rich answer must win over the boilerplate stub.
	stub := "<html><head><title>Online text submission</title></head>" +
		"<body><div class=\"submission\"><p>ok</p></div></body></html>"
	b := bucket(
		newFile("essay.txt", []byte("A short but real answer")),
		newFile("onlinetext.html", []byte(stub)),
	)

	out := newSelector().SelectAndExtract(b)
	require.NotNil(t, out.File)
	assert.Equal(t, "essay.txt", out.File.Name)
	assert.True(t, out.Empty)
}

func TestSelectorOnlineTextOnly(t *testing.T) {
	markup := "<p>" + strings.Repeat("online answer ", 5) + "</p>"
	out := newSelector().SelectAndExtract(bucket(newFile("onlinetext.html", []byte(markup))))

	require.NotNil(t, out.File)
	assert.Equal(t, markup, out.Text)
	assert.False(t, out.Empty)
}

func TestSelectorImageOnlyBucketGoesToImagePath(t *testing.T) {
	out := newSelector().SelectAndExtract(bucket(newFile("diagram.png", []byte{0x89, 0x50})))

	require.NotNil(t, out.File)
	assert.True(t, IsImage(out.Text))
	assert.False(t, out.Empty, "image submissions are graded, not skipped")
}

func TestSelectorUnsupportedOnlyBucketIsEmptyWithMarker(t *testing.T) {
	out := newSelector().SelectAndExtract(bucket(newFile("model.blend", []byte("x"))))

	assert.True(t, IsUnsupported(out.Text))
	assert.True(t, out.Empty)
	assert.False(t, out.NoFiles)
}
