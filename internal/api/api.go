package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bank-products/internal/export"
	"bank-products/internal/filter"
	"bank-products/internal/models"
	"bank-products/internal/reconcile"
	"bank-products/internal/refresh"
	"bank-products/internal/services/cbr"
	"bank-products/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Deps are the collaborators the HTTP layer reads from. Refresher, Events and
// Rates may be nil; their endpoints then answer 503.
type Deps struct {
	Engine    *reconcile.Engine
	Refresher *refresh.Refresher
	Events    EventStream
	Rates     *cbr.Service
	Log       *logrus.Logger
}

// EventStream is a refresh sink that can also serve subscribers over HTTP.
type EventStream interface {
	refresh.Sink
	http.Handler
}

type APIHandler struct {
	engine    *reconcile.Engine
	refresher *refresh.Refresher
	events    EventStream
	rates     *cbr.Service
	log       *logrus.Logger
	now       func() time.Time
}

func SetupRoutes(r *gin.RouterGroup, deps Deps) *APIHandler {
	handler := &APIHandler{
		engine:    deps.Engine,
		refresher: deps.Refresher,
		events:    deps.Events,
		rates:     deps.Rates,
		log:       deps.Log,
		now:       time.Now,
	}

	products := r.Group("/products")
	{
		products.GET("", handler.ListProducts)
		products.GET("/export", handler.ExportProducts)
		products.POST("/purge", handler.PurgeProducts)
	}

	refreshGroup := r.Group("/refresh")
	{
		refreshGroup.POST("", handler.StartRefresh)
		refreshGroup.GET("/status", handler.RefreshStatus)
		refreshGroup.GET("/ws", handler.RefreshEvents)
	}

	rates := r.Group("/currency-rates")
	{
		rates.GET("", handler.ListCurrencyRates)
		rates.POST("/refresh", handler.RefreshCurrencyRates)
	}

	return handler
}

// view loads the active set (or the last known good one) and applies the
// query's filter and sort.
func (h *APIHandler) view(c *gin.Context) ([]models.BankProduct, bool, error) {
	products, stale, err := h.engine.LoadActiveOrLast(c.Request.Context())
	if err != nil && !stale {
		return nil, false, err
	}
	products = filter.Filter(products, filter.ParseCriteria(c.Request.URL.Query()))
	if field := c.Query("sort"); field != "" {
		products = filter.Sort(products, field, c.DefaultQuery("order", "asc") != "desc")
	}
	return products, stale, nil
}

func (h *APIHandler) ListProducts(c *gin.Context) {
	products, stale, err := h.view(c)
	if err != nil {
		h.log.WithError(err).Error("Failed to load products")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load products"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total := len(products)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"msg":  "ok",
		"data": gin.H{
			"items":     products[start:end],
			"total":     total,
			"page":      page,
			"page_size": pageSize,
			"stale":     stale,
		},
	})
}

func (h *APIHandler) ExportProducts(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	products, _, err := h.view(c)
	if err != nil {
		h.log.WithError(err).Error("Failed to load products for export")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load products"})
		return
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename(h.now())))
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, format, products); err != nil {
		h.log.WithError(err).Error("Export failed")
	}
}

func (h *APIHandler) PurgeProducts(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "0"))
	var (
		n   int
		err error
	)
	if h.refresher != nil {
		n, err = h.refresher.Purge(c.Request.Context(), days)
	} else {
		n, err = h.engine.PurgeInactive(c.Request.Context(), days)
	}
	if errors.Is(err, refresh.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "refresh in progress"})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Purge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	if days <= 0 {
		days = h.engine.RetentionDays()
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{"purged": n, "older_than_days": days}})
}

func (h *APIHandler) StartRefresh(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no sources configured"})
		return
	}
	var sink refresh.Sink
	if h.events != nil {
		sink = h.events
	}
	err := h.refresher.Start(context.Background(), sink)
	if errors.Is(err, refresh.ErrAlreadyRunning) {
		_, current := h.refresher.Running()
		c.JSON(http.StatusConflict, gin.H{"error": "refresh already running", "status": current})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 200, "msg": "started"})
}

func (h *APIHandler) RefreshStatus(c *gin.Context) {
	running, current := h.runningRefresh()
	last, err := h.engine.Store().LastRun(c.Request.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.WithError(err).Warn("Failed to load last refresh run")
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "status": gin.H{
		"running": running,
		"current": current,
		"last":    last,
	}})
}

func (h *APIHandler) RefreshEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	h.events.ServeHTTP(c.Writer, c.Request)
}

func (h *APIHandler) ListCurrencyRates(c *gin.Context) {
	if h.rates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "currency rates disabled"})
		return
	}
	date, ok := h.parseDate(c)
	if !ok {
		return
	}
	rates, err := h.rates.Load(c.Request.Context(), date)
	if err != nil {
		h.log.WithError(err).Error("Failed to load currency rates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load currency rates"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": rates})
}

func (h *APIHandler) RefreshCurrencyRates(c *gin.Context) {
	if h.rates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "currency rates disabled"})
		return
	}
	date, ok := h.parseDate(c)
	if !ok {
		return
	}
	rates, err := h.rates.Refresh(c.Request.Context(), date)
	if err != nil {
		h.log.WithError(err).Error("Currency rates refresh failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": rates})
}

func (h *APIHandler) parseDate(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return h.now(), true
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return date, true
}

func (h *APIHandler) runningRefresh() (bool, *models.RefreshRun) {
	if h.refresher == nil {
		return false, nil
	}
	return h.refresher.Running()
}
