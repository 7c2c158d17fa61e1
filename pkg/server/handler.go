package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/dbtuneai/powa-agent/pkg/extract"
	"github.com/dbtuneai/powa-agent/pkg/metrics"
	"github.com/dbtuneai/powa-agent/pkg/pgstat"
	"github.com/dbtuneai/powa-agent/pkg/scheduler"
	"github.com/dbtuneai/powa-agent/pkg/tuplestore"
	"github.com/gin-gonic/gin"
)

// StatusProvider reports the state of the snapshot worker.
type StatusProvider interface {
	Status() scheduler.Status
}

// MetricsProvider returns the worker counters.
type MetricsProvider interface {
	Snapshot() []metrics.FlatValue
}

// Pinger checks that the server is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes the statistics extractor and the worker status over HTTP.
type Handler struct {
	source     pgstat.Source
	databaseID pgstat.Oid
	extractor  *extract.Extractor
	status     StatusProvider
	metrics    MetricsProvider
	pinger     Pinger
}

// NewHandler creates a Handler whose sessions are scoped to databaseID.
func NewHandler(source pgstat.Source, databaseID pgstat.Oid, extractor *extract.Extractor, status StatusProvider, metrics MetricsProvider, pinger Pinger) *Handler {
	return &Handler{
		source:     source,
		databaseID: databaseID,
		extractor:  extractor,
		status:     status,
		metrics:    metrics,
		pinger:     pinger,
	}
}

// FunctionStats handles `GET /databases/:dbid/functions`.
func (h *Handler) FunctionStats(c *gin.Context) {
	h.extract(c, extract.KindFunction, tuplestore.FunctionStatsDescriptor)
}

// RelationStats handles `GET /databases/:dbid/relations`.
func (h *Handler) RelationStats(c *gin.Context) {
	h.extract(c, extract.KindRelation, tuplestore.RelationStatsDescriptor)
}

func (h *Handler) extract(c *gin.Context, kind extract.Kind, desc *tuplestore.Descriptor) {
	dbid, err := strconv.ParseUint(c.Param("dbid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid database oid"})
		return
	}

	// Every request gets its own session, like a backend running the query.
	session := pgstat.NewSession(h.source, h.databaseID)
	store, err := h.extractor.Extract(c.Request.Context(), session, tuplestore.NewMaterializeRequest(desc), pgstat.Oid(dbid), kind)
	if err != nil {
		httpError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"database_id": dbid,
		"kind":        kind.String(),
		"columns":     desc.Columns,
		"rows":        store.Records(),
	})
}

// Status handles `GET /status`.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Status())
}

// Metrics handles `GET /metrics`.
func (h *Handler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.JSON(http.StatusOK, metrics.FormatMetrics(h.metrics.Snapshot()))
}

// Ping handles `GET /ping`.
func (h *Handler) Ping(c *gin.Context) {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request.Context()); err != nil {
			c.String(http.StatusInternalServerError, "db ping error: %v", err)
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

func httpError(c *gin.Context, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, extract.ErrSetNotSupported), errors.Is(err, extract.ErrNotRowType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
