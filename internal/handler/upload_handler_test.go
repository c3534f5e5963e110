package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/dto"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

type uploadServiceMock struct {
	archiveResp  *dto.UploadResponse
	archiveErr   error
	rosterResp   *dto.RosterUploadResponse
	rosterErr    error
	lastFilename string
	lastData     []byte
}

func (m *uploadServiceMock) SaveArchive(filename string, data []byte) (*dto.UploadResponse, error) {
	m.lastFilename = filename
	m.lastData = data
	return m.archiveResp, m.archiveErr
}

func (m *uploadServiceMock) SaveRoster(filename string, data []byte) (*dto.RosterUploadResponse, error) {
	m.lastFilename = filename
	m.lastData = data
	return m.rosterResp, m.rosterErr
}

func multipartRequest(t *testing.T, url, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadHandlerArchive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &uploadServiceMock{
		archiveResp: &dto.UploadResponse{UploadID: "upload-1", FileCount: 3},
	}
	handler := NewUploadHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "/uploads/submissions", "batch.zip", []byte("zipdata"))

	handler.UploadArchive(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "batch.zip", mockSvc.lastFilename)
	assert.Equal(t, []byte("zipdata"), mockSvc.lastData)
}

func TestUploadHandlerArchiveMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewUploadHandler(&uploadServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/uploads/submissions", nil)
	c.Request = req

	handler.UploadArchive(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadHandlerRosterParseError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &uploadServiceMock{rosterErr: appErrors.ErrRosterParse}
	handler := NewUploadHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartRequest(t, "/uploads/roster", "grades.csv", []byte("broken"))

	handler.UploadRoster(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
