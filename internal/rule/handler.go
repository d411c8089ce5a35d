package rule

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"halia/internal/constants"
	"halia/internal/logger"
	"halia/pkg/errors"
	"halia/pkg/message"
	"halia/pkg/models"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

type Handler struct {
	BaseHandler
	Service    Service
	Connectors Connectors
}

func NewHandler(service Service, connectors Connectors, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Service:     service,
		Connectors:  connectors,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/rules")
		{
			rules.POST("", h.CreateRule)
			rules.GET("", h.SearchRules)
			rules.GET("/summary", h.GetSummary)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.PUT("/:id/start", h.StartRule)
			rules.PUT("/:id/stop", h.StopRule)
			rules.GET("/:id/logs", h.GetLogs)
			rules.PUT("/:id/logs/enable", h.EnableLogs)
			rules.PUT("/:id/logs/disable", h.DisableLogs)
		}

		v1.GET("/connectors", h.ListConnectors)
		v1.POST("/sources/:id/batches", h.PublishBatch)
		v1.GET("/sinks/:id/batches", h.GetSinkBatches)
	}
}

// CreateRule godoc
// @Summary      Create a rule
// @Description  Validate a rule graph and store it stopped
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateRuleRequest  true  "Rule definition"
// @Success      201   {object}  RuleView
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// SearchRules godoc
// @Summary      Search rules
// @Description  Page through rules, optionally filtered by name and on flag
// @Tags         rules
// @Produce      json
// @Param        name  query     string  false  "Name substring (case-insensitive)"
// @Param        on    query     bool    false  "Only rules with this on flag"
// @Param        page  query     int     false  "Page number" default(1)
// @Param        size  query     int     false  "Page size (1-200)" default(20)
// @Success      200   {object}  SearchResult
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules [get]
func (h *Handler) SearchRules(c *gin.Context) {
	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.Service.Search(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSummary godoc
// @Summary      Rule counts
// @Tags         rules
// @Produce      json
// @Success      200  {object}  Summary
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/summary [get]
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.Service.Summary(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetRule godoc
// @Summary      Get a rule
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  RuleView
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a rule
// @Description  A running rule restarts when its graph changes
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        rule  body      UpdateRuleRequest  true  "Changed fields"
// @Success      200   {object}  RuleView
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete a stopped rule
// @Tags         rules
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartRule godoc
// @Summary      Start a rule
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  RuleView
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /rules/{id}/start [put]
func (h *Handler) StartRule(c *gin.Context) {
	rule, err := h.Service.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// StopRule godoc
// @Summary      Stop a rule
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  RuleView
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      408  {object}  errors.ErrorResponse
// @Router       /rules/{id}/stop [put]
func (h *Handler) StopRule(c *gin.Context) {
	rule, err := h.Service.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// GetLogs godoc
// @Summary      Rule execution logs
// @Tags         rules
// @Produce      json
// @Param        id     path      string  true   "Rule ID"
// @Param        limit  query     int     false  "Maximum number of entries (1-1000)" default(100)
// @Success      200    {array}   LogEntry
// @Failure      404    {object}  errors.ErrorResponse
// @Router       /rules/{id}/logs [get]
func (h *Handler) GetLogs(c *gin.Context) {
	logs, err := h.Service.Logs(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// EnableLogs godoc
// @Summary      Start recording execution logs
// @Tags         rules
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/logs/enable [put]
func (h *Handler) EnableLogs(c *gin.Context) {
	h.setLogs(c, true)
}

// DisableLogs godoc
// @Summary      Stop recording execution logs
// @Tags         rules
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/logs/disable [put]
func (h *Handler) DisableLogs(c *gin.Context) {
	h.setLogs(c, false)
}

func (h *Handler) setLogs(c *gin.Context, enabled bool) {
	if err := h.Service.SetLogEnabled(c.Request.Context(), c.Param("id"), enabled); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListConnectors godoc
// @Summary      List sources and sinks
// @Tags         connectors
// @Produce      json
// @Success      200  {array}  connector.Info
// @Router       /connectors [get]
func (h *Handler) ListConnectors(c *gin.Context) {
	c.JSON(http.StatusOK, h.Connectors.List())
}

type publishResponse struct {
	Delivered int `json:"delivered"`
	Messages  int `json:"messages"`
}

// PublishBatch godoc
// @Summary      Publish a batch to an in-process source
// @Description  Body is one JSON object, an array of objects or a batch envelope
// @Tags         connectors
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Source ID"
// @Success      202  {object}  publishResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /sources/{id}/batches [post]
func (h *Handler) PublishBatch(c *gin.Context) {
	src, err := h.Connectors.MemorySource(c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}
	batch, _, err := models.DecodeBatch(body)
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	delivered, err := src.Publish(c.Request.Context(), batch)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, publishResponse{Delivered: delivered, Messages: batch.Len()})
}

type sinkBatch struct {
	Name     string         `json:"name,omitempty"`
	Messages *message.Batch `json:"messages"`
}

// GetSinkBatches godoc
// @Summary      Batches received by an in-process sink
// @Tags         connectors
// @Produce      json
// @Param        id   path      string  true  "Sink ID"
// @Success      200  {array}   sinkBatch
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /sinks/{id}/batches [get]
func (h *Handler) GetSinkBatches(c *gin.Context) {
	w, err := h.Connectors.MemorySink(c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	batches := w.Batches()
	out := make([]sinkBatch, 0, len(batches))
	for _, b := range batches {
		out = append(out, sinkBatch{Name: b.Name(), Messages: b})
	}
	c.JSON(http.StatusOK, out)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
