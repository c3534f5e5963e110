package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/dto"
	"github.com/gradekit/gradekit-api/internal/middleware"
	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

type runServiceMock struct {
	startResp   *dto.RunResponse
	startErr    error
	statusResp  *dto.RunStatusResponse
	statusErr   error
	listResp    []dto.RunStatusResponse
	listErr     error
	rowsResp    *dto.RowsResponse
	rowsErr     error
	editResp    *models.RosterRow
	editErr     error
	exportResp  *dto.ExportResponse
	exportErr   error
	lastActor   string
	lastRunID   string
	startCalled bool
}

func (m *runServiceMock) StartRun(ctx context.Context, req dto.StartRunRequest, actorID string) (*dto.RunResponse, error) {
	m.startCalled = true
	m.lastActor = actorID
	return m.startResp, m.startErr
}

func (m *runServiceMock) GetStatus(ctx context.Context, runID, actorID string) (*dto.RunStatusResponse, error) {
	m.lastRunID = runID
	m.lastActor = actorID
	return m.statusResp, m.statusErr
}

func (m *runServiceMock) ListRuns(ctx context.Context, actorID string, limit int) ([]dto.RunStatusResponse, error) {
	m.lastActor = actorID
	return m.listResp, m.listErr
}

func (m *runServiceMock) ListRows(ctx context.Context, runID, actorID string) (*dto.RowsResponse, error) {
	m.lastRunID = runID
	return m.rowsResp, m.rowsErr
}

func (m *runServiceMock) EditRow(ctx context.Context, runID, rowID string, req dto.EditRowRequest, actorID string) (*models.RosterRow, error) {
	m.lastRunID = runID
	return m.editResp, m.editErr
}

func (m *runServiceMock) Export(ctx context.Context, runID string, format models.ExportFormat, actorID string) (*dto.ExportResponse, error) {
	m.lastRunID = runID
	return m.exportResp, m.exportErr
}

func testClaims(subject string) *middleware.Claims {
	return &middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
}

func TestRunHandlerStart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{
		startResp: &dto.RunResponse{ID: "run-1", Status: models.RunStatusQueued},
	}
	handler := NewRunHandler(mockSvc)

	payload, _ := json.Marshal(dto.StartRunRequest{
		AssignmentTitle: "Essay 1",
		PointScale:      100,
		UploadID:        "upload-1",
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/runs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Start(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.startCalled)
	assert.Equal(t, "teacher-1", mockSvc.lastActor)
}

func TestRunHandlerStartInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{}
	handler := NewRunHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString(`{"pointScale":0}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Start(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.startCalled)
}

func TestRunHandlerStartWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString(`{}`))
	c.Request = req

	handler.Start(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRunHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{
		statusResp: &dto.RunStatusResponse{ID: "run-1", Status: models.RunStatusProcessing, Progress: 40},
	}
	handler := NewRunHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/runs/run-1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", mockSvc.lastRunID)
}

func TestRunHandlerListRejectsBadLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/runs?limit=abc", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHandlerEditRowForwardsServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{editErr: appErrors.ErrForbidden}
	handler := NewRunHandler(mockSvc)

	payload, _ := json.Marshal(dto.EditRowRequest{Feedback: "better"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/runs/run-1/rows/row-1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "run-1"}, {Key: "rowId", Value: "row-1"}}
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.EditRow(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRunHandlerExportReviewGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{exportErr: appErrors.ErrReviewIncomplete}
	handler := NewRunHandler(mockSvc)

	payload, _ := json.Marshal(dto.ExportRequest{Format: models.ExportFormatCSV})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/runs/run-1/export", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Export(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestRunHandlerExportRejectsUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/runs/run-1/export", bytes.NewBufferString(`{"format":"xlsx"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Export(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
