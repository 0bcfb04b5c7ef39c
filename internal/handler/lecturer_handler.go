package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ptit-portal/internship-api/internal/models"
	"github.com/ptit-portal/internship-api/internal/service"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
	"github.com/ptit-portal/internship-api/pkg/response"
)

// LecturerHandler exposes lecturer and capacity configuration endpoints.
type LecturerHandler struct {
	lecturers *service.LecturerService
}

// NewLecturerHandler constructs LecturerHandler.
func NewLecturerHandler(lecturers *service.LecturerService) *LecturerHandler {
	return &LecturerHandler{lecturers: lecturers}
}

// List returns all lecturers.
func (h *LecturerHandler) List(c *gin.Context) {
	lecturers, err := h.lecturers.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecturers, nil)
}

// Get returns one lecturer.
func (h *LecturerHandler) Get(c *gin.Context) {
	lecturer, err := h.lecturers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecturer, nil)
}

// Create adds a lecturer.
func (h *LecturerHandler) Create(c *gin.Context) {
	var req service.LecturerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lecturer, err := h.lecturers.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lecturer)
}

// Update modifies a lecturer.
func (h *LecturerHandler) Update(c *gin.Context) {
	var req service.LecturerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lecturer, err := h.lecturers.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecturer, nil)
}

// Delete removes a lecturer.
func (h *LecturerHandler) Delete(c *gin.Context) {
	if err := h.lecturers.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpsertSlot applies the capacity configuration for one lecturer in a period.
func (h *LecturerHandler) UpsertSlot(c *gin.Context) {
	var req models.LecturerSlotUpsert
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.lecturers.UpsertSlot(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// BatchUpsertSlots applies a batch of capacity rows atomically.
func (h *LecturerHandler) BatchUpsertSlots(c *gin.Context) {
	var req struct {
		Slots []models.LecturerSlotUpsert `json:"slots"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.lecturers.BatchUpsertSlots(c.Request.Context(), c.Param("id"), req.Slots); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"applied": len(req.Slots)}, nil)
}

// ListSlots returns every capacity row of a period.
func (h *LecturerHandler) ListSlots(c *gin.Context) {
	slots, err := h.lecturers.ListSlots(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// ListAvailable returns lecturers open for supervision in a period.
func (h *LecturerHandler) ListAvailable(c *gin.Context) {
	slots, err := h.lecturers.ListAvailable(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}
