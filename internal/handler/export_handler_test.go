package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/service"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

type downloadResolverMock struct {
	resp      *service.RunDownload
	err       error
	lastToken string
}

func (m *downloadResolverMock) ResolveDownload(ctx context.Context, token string) (*service.RunDownload, error) {
	m.lastToken = token
	return m.resp, m.err
}

func TestExportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "grades-123.csv")
	require.NoError(t, os.WriteFile(path, []byte("Identifier,Grade\nid1,88\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	mockSvc := &downloadResolverMock{
		resp: &service.RunDownload{
			File:      file,
			Filename:  "grades-123.csv",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	handler := NewExportHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/export/token-1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "token-1"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token-1", mockSvc.lastToken)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "grades-123.csv")
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "id1,88")
}

func TestExportHandlerDownloadInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &downloadResolverMock{err: appErrors.ErrForbidden}
	handler := NewExportHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/export/bad-token", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "bad-token"}}

	handler.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestExportHandlerDownloadMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewExportHandler(&downloadResolverMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/export/%20", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: " "}}

	handler.Download(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
