package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linkwire-dev/linkwire/pkg/session"
)

type handlers struct {
	svc *session.Service
}

type pairRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

func (h *handlers) startSession(c *gin.Context) {
	result, err := h.svc.StartSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) getVisualCode(c *gin.Context) {
	code, err := h.svc.GetVisualCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

func (h *handlers) requestPairingCode(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phoneNumber is required"})
		return
	}

	code, err := h.svc.RequestPairingCode(c.Request.Context(), c.Param("id"), req.PhoneNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

func (h *handlers) getPairingCode(c *gin.Context) {
	code, err := h.svc.GetPairingCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

func (h *handlers) getStatus(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handlers) exportCredential(c *gin.Context) {
	export, err := h.svc.ExportCredential(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	// ?download=1 streams the raw bundle; the default response is the
	// base64 form inside a JSON envelope.
	if c.Query("download") != "" {
		c.Header("Content-Disposition", "attachment; filename="+c.Param("id")+".credentials")
		c.Data(http.StatusOK, "application/octet-stream", export.Raw)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (h *handlers) destroySession(c *gin.Context) {
	h.svc.DestroySession(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// writeError maps core error kinds onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var transportErr *session.TransportError
	var persistenceErr *session.PersistenceError

	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		c.JSON(http.StatusConflict, gin.H{"error": "already authenticated"})
	case errors.Is(err, session.ErrInvalidSessionID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &transportErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.As(err, &persistenceErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
