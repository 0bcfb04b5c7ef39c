package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ptit-portal/internship-api/internal/service"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
	"github.com/ptit-portal/internship-api/pkg/response"
)

// EnterpriseHandler exposes per-period enterprise endpoints.
type EnterpriseHandler struct {
	enterprises *service.EnterpriseService
}

// NewEnterpriseHandler constructs EnterpriseHandler.
func NewEnterpriseHandler(enterprises *service.EnterpriseService) *EnterpriseHandler {
	return &EnterpriseHandler{enterprises: enterprises}
}

// List returns the enterprises of a period.
func (h *EnterpriseHandler) List(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active_only", "false"))
	slots, err := h.enterprises.List(c.Request.Context(), c.Param("id"), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// ListAvailable returns enterprises with spare capacity.
func (h *EnterpriseHandler) ListAvailable(c *gin.Context) {
	slots, err := h.enterprises.ListAvailable(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Get returns one enterprise.
func (h *EnterpriseHandler) Get(c *gin.Context) {
	slot, err := h.enterprises.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Create adds an enterprise to a period.
func (h *EnterpriseHandler) Create(c *gin.Context) {
	var req service.EnterpriseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.enterprises.Create(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Update modifies an enterprise.
func (h *EnterpriseHandler) Update(c *gin.Context) {
	var req service.EnterpriseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.enterprises.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Delete removes one enterprise.
func (h *EnterpriseHandler) Delete(c *gin.Context) {
	if err := h.enterprises.Delete(c.Request.Context(), []string{c.Param("id")}); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkDelete removes a set of enterprises at once.
func (h *EnterpriseHandler) BulkDelete(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.enterprises.Delete(c.Request.Context(), req.IDs); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": len(req.IDs)}, nil)
}
