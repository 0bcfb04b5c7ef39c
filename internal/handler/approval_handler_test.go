package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type approvalServiceMock struct {
	reviewedReg  string
	reviewedPref string
	lastReq      models.ReviewRequest
	forced       *models.ForcePlacementRequest
	err          error
}

func (m *approvalServiceMock) ReviewLecturerRegistration(ctx context.Context, id string, req models.ReviewRequest) (*models.LecturerRegistration, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.reviewedReg = id
	m.lastReq = req
	return &models.LecturerRegistration{ID: id, Status: req.Status}, nil
}

func (m *approvalServiceMock) ReviewPreference(ctx context.Context, id string, req models.ReviewRequest) error {
	if m.err != nil {
		return m.err
	}
	m.reviewedPref = id
	m.lastReq = req
	return nil
}

func (m *approvalServiceMock) ForceAcademyPlacement(ctx context.Context, req models.ForcePlacementRequest) error {
	if m.err != nil {
		return m.err
	}
	m.forced = &req
	return nil
}

func adminContext(t *testing.T, method, path string, body interface{}, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = params
	return c, w
}

func TestApprovalHandlerReviewRegistration(t *testing.T) {
	mock := &approvalServiceMock{}
	handler := NewApprovalHandler(mock)
	c, w := adminContext(t, http.MethodPut, "/registrations/lecturer/reg-1/review",
		models.ReviewRequest{Status: models.RegistrationStatusApproved}, gin.Params{{Key: "id", Value: "reg-1"}})

	handler.ReviewRegistration(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reg-1", mock.reviewedReg)
}

func TestApprovalHandlerReviewPreferenceForceAcademy(t *testing.T) {
	mock := &approvalServiceMock{}
	handler := NewApprovalHandler(mock)
	c, w := adminContext(t, http.MethodPut, "/registrations/preferences/pref-1/review",
		models.ReviewRequest{Status: models.RegistrationStatusApproved, ForceAcademy: true}, gin.Params{{Key: "id", Value: "pref-1"}})

	handler.ReviewPreference(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pref-1", mock.reviewedPref)
	assert.True(t, mock.lastReq.ForceAcademy)
}

func TestApprovalHandlerReviewPreferenceConflict(t *testing.T) {
	mock := &approvalServiceMock{err: appErrors.ErrConflict}
	handler := NewApprovalHandler(mock)
	c, w := adminContext(t, http.MethodPut, "/registrations/preferences/pref-1/review",
		models.ReviewRequest{Status: models.RegistrationStatusRejected}, gin.Params{{Key: "id", Value: "pref-1"}})

	handler.ReviewPreference(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApprovalHandlerForceAcademy(t *testing.T) {
	mock := &approvalServiceMock{}
	handler := NewApprovalHandler(mock)
	c, w := adminContext(t, http.MethodPost, "/registrations/force-academy",
		models.ForcePlacementRequest{StudentID: "stu-1", PeriodID: "period-1"}, nil)

	handler.ForceAcademy(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.forced)
	assert.Equal(t, "stu-1", mock.forced.StudentID)
}

func TestApprovalHandlerForceAcademyInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewApprovalHandler(&approvalServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/registrations/force-academy", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.ForceAcademy(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
