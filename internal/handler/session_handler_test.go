package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekit/gradekit-api/internal/middleware"
	"github.com/gradekit/gradekit-api/internal/models"
)

type sessionServiceMock struct {
	saved     *models.SessionState
	restored  models.SessionState
	cleared   bool
	lastActor string
}

func (m *sessionServiceMock) Save(ctx context.Context, userID string, state models.SessionState) {
	m.lastActor = userID
	m.saved = &state
}

func (m *sessionServiceMock) Restore(ctx context.Context, userID string) models.SessionState {
	m.lastActor = userID
	return m.restored
}

func (m *sessionServiceMock) Clear(ctx context.Context, userID string) {
	m.lastActor = userID
	m.cleared = true
}

func TestSessionHandlerSave(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &sessionServiceMock{}
	handler := NewSessionHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/session", bytes.NewBufferString(`{"wizard_step":3,"last_run_id":"run-1"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Save(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, mockSvc.saved)
	assert.Equal(t, 3, mockSvc.saved.WizardStep)
	assert.Equal(t, "teacher-1", mockSvc.lastActor)
}

func TestSessionHandlerRestore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &sessionServiceMock{restored: models.SessionState{WizardStep: 2}}
	handler := NewSessionHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/session", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Restore(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"wizard_step":2`)
}

func TestSessionHandlerClear(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &sessionServiceMock{}
	handler := NewSessionHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodDelete, "/session", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims("teacher-1"))

	handler.Clear(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, mockSvc.cleared)
}
