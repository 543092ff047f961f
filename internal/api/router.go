// Package api serves the operations over HTTP with a websocket event stream.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"analysisops/internal/deploy"
	"analysisops/internal/events"
	"analysisops/internal/query"
	"analysisops/internal/service"
	"analysisops/internal/store"
	"analysisops/internal/transport"
)

// Operations is what the handlers call. *service.Service satisfies it.
type Operations interface {
	Connect(ctx context.Context, target transport.Target) (service.SessionInfo, error)
	Disconnect() error
	Info() service.SessionInfo
	ExecuteQuery(ctx context.Context, req query.Request) (*query.Result, error)
	TableInfo(ctx context.Context, dbPath string) (*query.TableInfo, error)
	ExportWideTable(ctx context.Context, req query.Request, outputPath string) (query.ExportJob, error)
	ExportDemandResults(ctx context.Context, req query.Request, outputPath string) (query.ExportJob, error)
	CheckDeployStatus(ctx context.Context) (deploy.Status, error)
	DeployApplication(ctx context.Context, req deploy.Request) (deploy.Result, error)
	History(ctx context.Context, kind string, limit int) ([]store.Job, error)
	Events() *events.Reporter
}

type Deps struct {
	Ops         Operations
	TokenConfig TokenConfig
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	r.POST("/v1/token", issueToken(deps.TokenConfig))

	h := &Handler{Ops: deps.Ops}
	protected := r.Group("/v1")
	protected.Use(RequireAuth(deps.TokenConfig))

	protected.GET("/session", h.Session)
	protected.POST("/connect", h.Connect)
	protected.POST("/disconnect", h.Disconnect)

	protected.POST("/query", h.Query)
	protected.GET("/tables", h.Tables)
	protected.POST("/export/wide", h.ExportWide)
	protected.POST("/export/demand", h.ExportDemand)

	protected.GET("/deploy/status", h.DeployStatus)
	protected.POST("/deploy", h.Deploy)

	protected.GET("/jobs", h.Jobs)
	protected.GET("/events", h.Events)

	return r
}
