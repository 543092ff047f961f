package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"analysisops/internal/deploy"
	"analysisops/internal/query"
	"analysisops/internal/schema"
	"analysisops/internal/service"
	"analysisops/internal/transport"
)

type Handler struct {
	Ops Operations
}

// statusFor maps operation errors to HTTP status codes.
func statusFor(err error) int {
	var (
		qv *query.ValidationError
		dv *deploy.ValidationError
		ce *transport.ConnectError
		qe *query.Error
	)
	switch {
	case errors.As(err, &qv), errors.As(err, &dv):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, transport.ErrNotConnected):
		return http.StatusPreconditionFailed
	case errors.As(err, &ce):
		return http.StatusBadGateway
	case errors.As(err, &qe):
		switch qe.Kind {
		case query.KindConnectionLost, query.KindRemote:
			return http.StatusBadGateway
		case query.KindTimeout:
			return http.StatusGatewayTimeout
		case query.KindMalformedSchema:
			return http.StatusUnprocessableEntity
		case query.KindRemoteToolMissing:
			return http.StatusFailedDependency
		case query.KindCanceled:
			return http.StatusRequestTimeout
		}
	case errors.Is(err, transport.ErrConnectionLost):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var qe *query.Error
	if errors.As(err, &qe) {
		body["kind"] = qe.Kind
	}
	var ve *query.ValidationError
	if errors.As(err, &ve) {
		body["problems"] = ve.Entries
	}
	var dv *deploy.ValidationError
	if errors.As(err, &dv) {
		body["problems"] = dv.Entries
	}
	c.JSON(statusFor(err), body)
}

// =============================================================================
// SESSION
// =============================================================================

func (h *Handler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.Ops.Info())
}

func (h *Handler) Connect(c *gin.Context) {
	var target transport.Target
	if err := c.ShouldBindJSON(&target); err != nil || target.Host == "" || target.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: host and username are required"})
		return
	}
	info, err := h.Ops.Connect(c.Request.Context(), target)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.Ops.Disconnect(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Ops.Info())
}

// =============================================================================
// QUERIES
// =============================================================================

func (h *Handler) Query(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	res, err := h.Ops.ExecuteQuery(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Tables(c *gin.Context) {
	db := c.Query("db_path")
	if db == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "db_path is required"})
		return
	}
	info, err := h.Ops.TableInfo(c.Request.Context(), db)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type exportBody struct {
	query.Request
	OutputPath string `json:"output_path"`
}

func (h *Handler) export(c *gin.Context, kind schema.Kind) {
	var body exportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	run := h.Ops.ExportWideTable
	if kind == schema.KindDemand {
		run = h.Ops.ExportDemandResults
	}
	job, err := run(c.Request.Context(), body.Request, body.OutputPath)
	if err != nil {
		if job.ID != "" {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "job": job})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) ExportWide(c *gin.Context)   { h.export(c, schema.KindWideTable) }
func (h *Handler) ExportDemand(c *gin.Context) { h.export(c, schema.KindDemand) }

// =============================================================================
// DEPLOYMENT
// =============================================================================

func (h *Handler) DeployStatus(c *gin.Context) {
	st, err := h.Ops.CheckDeployStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Deploy returns the result with its log for every deployment that started;
// a failed one is reported with 422.
func (h *Handler) Deploy(c *gin.Context) {
	var req deploy.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	res, err := h.Ops.DeployApplication(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case res.State == "":
		fail(c, err)
	default:
		c.JSON(http.StatusUnprocessableEntity, res)
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func (h *Handler) Jobs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	jobs, err := h.Ops.History(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
