package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
	"github.com/ptit-portal/internship-api/pkg/response"
)

type approvalService interface {
	ReviewLecturerRegistration(ctx context.Context, id string, req models.ReviewRequest) (*models.LecturerRegistration, error)
	ReviewPreference(ctx context.Context, id string, req models.ReviewRequest) error
	ForceAcademyPlacement(ctx context.Context, req models.ForcePlacementRequest) error
}

// ApprovalHandler exposes the admin review endpoints.
type ApprovalHandler struct {
	approvals approvalService
}

// NewApprovalHandler constructs ApprovalHandler.
func NewApprovalHandler(approvals approvalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// ReviewRegistration approves or rejects a lecturer registration.
func (h *ApprovalHandler) ReviewRegistration(c *gin.Context) {
	var req models.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	reg, err := h.approvals.ReviewLecturerRegistration(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// ReviewPreference approves or rejects an enterprise preference.
func (h *ApprovalHandler) ReviewPreference(c *gin.Context) {
	var req models.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.approvals.ReviewPreference(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": req.Status}, nil)
}

// ForceAcademy places a student at the home institution directly.
func (h *ApprovalHandler) ForceAcademy(c *gin.Context) {
	var req models.ForcePlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.approvals.ForceAcademyPlacement(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"student_id": req.StudentID, "placed": true}, nil)
}
