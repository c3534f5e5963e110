package service

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/pkg/config"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
	"github.com/gradekit/gradekit-api/pkg/storage"
)

func newUploadService(t *testing.T) *UploadService {
	t.Helper()
	fs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewUploadService(fs, config.UploadsConfig{
		MaxArchiveBytes:  10 * 1024 * 1024,
		MaxFileBytes:     1024 * 1024,
		AllowedRosterExt: []string{"csv", "xlsx"},
	}, nil)
}

func archiveBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSaveArchiveAndReload(t *testing.T) {
	svc := newUploadService(t)
	data := archiveBytes(t, map[string]string{
		"Jane Smith_101_assignsubmission_file/essay.txt": "essay content",
	})

	resp, err := svc.SaveArchive("submissions.zip", data)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.FileCount)
	assert.NotEmpty(t, resp.UploadID)

	files, err := svc.LoadArchiveFiles(resp.UploadID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "essay.txt", files[0].Name)
	assert.Equal(t, []byte("essay content"), files[0].Data)
}

func TestSaveArchiveRejectsNonZip(t *testing.T) {
	svc := newUploadService(t)
	_, err := svc.SaveArchive("notes.txt", []byte("not an archive"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnsupportedUpload.Code, appErrors.FromError(err).Code)
}

func TestSaveRosterAndReload(t *testing.T) {
	svc := newUploadService(t)
	csvText := "Identifier,Full name,Email address,Grade,Feedback comments\n" +
		"id1,Jane Smith,jane@x.edu,,\n"

	resp, err := svc.SaveRoster("grades.csv", []byte(csvText))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.StudentCount)
	assert.Equal(t, "Grade", resp.AssignmentColumn)
	assert.Equal(t, []string{"Jane Smith"}, resp.SampleNames)

	gb, err := svc.LoadRoster(resp.UploadID)
	require.NoError(t, err)
	require.Len(t, gb.Rows, 1)
	assert.Equal(t, "Jane Smith", gb.Rows[0].FullName)
}

func TestSaveRosterRejectsUnknownExtension(t *testing.T) {
	svc := newUploadService(t)
	_, err := svc.SaveRoster("grades.pdf", []byte("%PDF"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnsupportedUpload.Code, appErrors.FromError(err).Code)
}

func TestSaveRosterParseFailureIsBlocking(t *testing.T) {
	svc := newUploadService(t)
	_, err := svc.SaveRoster("grades.csv", []byte(""))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRosterParse.Code, appErrors.FromError(err).Code)
}

func TestLoadMissingUpload(t *testing.T) {
	svc := newUploadService(t)
	_, err := svc.LoadArchiveFiles("missing-id")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
