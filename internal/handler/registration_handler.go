package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ptit-portal/internship-api/internal/models"
	"github.com/ptit-portal/internship-api/internal/service"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
	"github.com/ptit-portal/internship-api/pkg/response"
)

type allocationService interface {
	RegisterLecturer(ctx context.Context, studentID string, req models.LecturerRegistrationRequest) (*models.LecturerRegistration, error)
	SubmitPreferences(ctx context.Context, studentID string, sub models.PreferenceSubmission) error
	Status(ctx context.Context, studentID, periodID string) (*service.PlacementStatus, error)
	ListRegistrations(ctx context.Context, filter models.RegistrationFilter) ([]models.LecturerRegistrationDetail, error)
	ListPreferences(ctx context.Context, filter models.RegistrationFilter) ([]models.EnterprisePreferenceDetail, error)
	Results(ctx context.Context, periodID string) ([]models.LecturerResult, []models.EnterpriseResult, error)
	Stats(ctx context.Context) (*models.DashboardStats, error)
}

// RegistrationHandler exposes the student-facing placement endpoints and the
// admin listings.
type RegistrationHandler struct {
	allocations allocationService
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(allocations allocationService) *RegistrationHandler {
	return &RegistrationHandler{allocations: allocations}
}

// RegisterLecturer records or changes the caller's lecturer choice.
func (h *RegistrationHandler) RegisterLecturer(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.LecturerRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	reg, err := h.allocations.RegisterLecturer(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reg)
}

// SubmitPreferences stores the caller's ranked enterprise list.
func (h *RegistrationHandler) SubmitPreferences(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req models.PreferenceSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.allocations.SubmitPreferences(c.Request.Context(), claims.UserID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"submitted": len(req.Preferences)}, nil)
}

// Status returns the caller's registration and preferences for a period.
func (h *RegistrationHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.allocations.Status(c.Request.Context(), claims.UserID, c.Query("period_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ListRegistrations returns lecturer registrations for admin review.
func (h *RegistrationHandler) ListRegistrations(c *gin.Context) {
	regs, err := h.allocations.ListRegistrations(c.Request.Context(), registrationFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, regs, nil)
}

// ListPreferences returns enterprise preferences for admin review.
func (h *RegistrationHandler) ListPreferences(c *gin.Context) {
	prefs, err := h.allocations.ListPreferences(c.Request.Context(), registrationFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prefs, nil)
}

// Results returns the placement outcome of a period grouped by lecturer and
// enterprise.
func (h *RegistrationHandler) Results(c *gin.Context) {
	lecturers, enterprises, err := h.allocations.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"lecturers":   lecturers,
		"enterprises": enterprises,
	}, nil)
}

// Stats returns the admin overview counters.
func (h *RegistrationHandler) Stats(c *gin.Context) {
	stats, err := h.allocations.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

func registrationFilterFromQuery(c *gin.Context) models.RegistrationFilter {
	return models.RegistrationFilter{
		PeriodID:  c.Query("period_id"),
		StudentID: c.Query("student_id"),
		Status:    models.RegistrationStatus(strings.ToUpper(c.Query("status"))),
	}
}
