package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"story-server/internal/auth"
	"story-server/internal/generation"
	"story-server/internal/models"
	"story-server/internal/service"
	"story-server/internal/storage"
)

var (
	imageGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_image_generations_total",
		Help: "Image generation attempts by result.",
	}, []string{"result"})

	documentSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "story_document_saves_total",
		Help: "Story document saves.",
	})

	playbackSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "story_playback_sessions_active",
		Help: "Active playback WebSocket sessions.",
	})
)

// Handler - HTTP-поверхность сервера: аутентификация, документ истории,
// операции редактора, изображения и WebSocket-мост проигрывания.
type Handler struct {
	repo      *storage.StoryRepository
	authoring *service.AuthoringService
	authSvc   *auth.Service
	generator generation.Generator
	opts      service.Options
	logger    *zap.Logger

	// Арбитраж между операциями редактора: последняя запись побеждает.
	// Сессии проигрывания под мьютекс не ходят - каждая получает
	// свой снимок документа при подключении.
	docMu sync.RWMutex
}

func New(
	repo *storage.StoryRepository,
	authoring *service.AuthoringService,
	authSvc *auth.Service,
	generator generation.Generator,
	opts service.Options,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		repo:      repo,
		authoring: authoring,
		authSvc:   authSvc,
		generator: generator,
		opts:      opts,
		logger:    logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes вешает все маршруты сервера на роутер.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", h.login)
		api.GET("/load", h.loadStory)
		api.GET("/images/:nodeID", h.getImage)
	}

	admin := api.Group("")
	admin.Use(RequireAdmin(h.authSvc))
	{
		admin.POST("/auth/logout", h.logout)
		admin.POST("/save", h.saveStory)
		admin.GET("/progress", h.progress)

		admin.POST("/generate-image", h.refineImage)
		admin.POST("/revert-image", h.revertImage)
		admin.PUT("/images/:nodeID", h.putImage)
		admin.DELETE("/images/:nodeID", h.clearImage)

		admin.POST("/nodes", h.addNode)
		admin.DELETE("/nodes/:id", h.deleteNode)
		admin.POST("/nodes/:id/choices", h.addChoice)
		admin.PUT("/nodes/:id/choices/:index", h.updateChoice)
		admin.DELETE("/nodes/:id/choices/:index", h.removeChoice)

		admin.PUT("/elements/:category/:id", h.upsertElement)
		admin.DELETE("/elements/:category/:id", h.deleteElement)
	}

	router.GET("/ws", h.playbackSocket)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "password is required"})
		return
	}
	token, err := h.authSvc.Login(c.Request.Context(), req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token})
}

func (h *Handler) logout(c *gin.Context) {
	token := c.GetString("token")
	if err := h.authSvc.Logout(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) loadStory(c *gin.Context) {
	h.docMu.RLock()
	defer h.docMu.RUnlock()
	c.JSON(http.StatusOK, h.authoring.Document())
}

func (h *Handler) saveStory(c *gin.Context) {
	var doc models.StoryDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed story document"})
		return
	}

	h.docMu.Lock()
	defer h.docMu.Unlock()

	if err := h.authoring.ReplaceDocument(&doc); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.authoring.Save(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	documentSaves.Inc()
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *Handler) progress(c *gin.Context) {
	h.docMu.RLock()
	withImages, total := h.authoring.Progress()
	h.docMu.RUnlock()
	c.JSON(http.StatusOK, progressResponse{NodesWithImages: withImages, TotalNodes: total})
}

func (h *Handler) refineImage(c *gin.Context) {
	var req refineImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "node_id is required"})
		return
	}

	h.docMu.Lock()
	defer h.docMu.Unlock()

	if err := h.authoring.RefineImage(c.Request.Context(), req.NodeID, req.Notes); err != nil {
		if errors.Is(err, generation.ErrNotAuthorized) {
			imageGenerations.WithLabelValues("forbidden").Inc()
			c.JSON(http.StatusForbidden, errorResponse{
				Error:        "image generation not available",
				EndOfContent: true,
			})
			return
		}
		imageGenerations.WithLabelValues("error").Inc()
		h.respondError(c, err)
		return
	}
	imageGenerations.WithLabelValues("ok").Inc()

	node, _ := h.authoring.Document().Node(req.NodeID)
	c.JSON(http.StatusOK, gin.H{"image_url": node.ImageURL})
}

func (h *Handler) revertImage(c *gin.Context) {
	var req revertImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "node_id is required"})
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.RevertImage(c.Request.Context(), req.NodeID, req.EntryIndex); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reverted"})
}

func (h *Handler) getImage(c *gin.Context) {
	nodeID := c.Param("nodeID")
	data, err := h.repo.GetImage(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "image not found"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (h *Handler) putImage(c *gin.Context) {
	nodeID := c.Param("nodeID")
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, storage.MaxImageSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read image body"})
		return
	}
	if err := h.repo.PutImage(c.Request.Context(), nodeID, data); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_url": service.NodeImageURL(nodeID)})
}

func (h *Handler) clearImage(c *gin.Context) {
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.ClearImage(c.Request.Context(), c.Param("nodeID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) addNode(c *gin.Context) {
	var req addNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	node, err := h.authoring.AddNode(req.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (h *Handler) deleteNode(c *gin.Context) {
	h.docMu.Lock()
	defer h.docMu.Unlock()
	removed, err := h.authoring.DeleteNode(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incoming_edges_removed": removed})
}

func (h *Handler) addChoice(c *gin.Context) {
	var req choiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "choice is required"})
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.AddChoice(c.Param("id"), req.Choice); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) updateChoice(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "choice index must be a number"})
		return
	}
	var req choiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "choice is required"})
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.UpdateChoice(c.Param("id"), index, req.Choice); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeChoice(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "choice index must be a number"})
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.RemoveChoice(c.Param("id"), index); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) upsertElement(c *gin.Context) {
	var req elementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed element"})
		return
	}
	category := models.ElementCategory(c.Param("category"))
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.UpsertElement(category, c.Param("id"), req.Description); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteElement(c *gin.Context) {
	category := models.ElementCategory(c.Param("category"))
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if err := h.authoring.DeleteElement(category, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError отображает доменные ошибки в HTTP-статусы.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNodeNotFound),
		errors.Is(err, models.ErrChoiceNotFound),
		errors.Is(err, models.ErrElementNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNodeExists):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrUnknownCategory):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrDocumentTooLarge),
		errors.Is(err, storage.ErrImageTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
