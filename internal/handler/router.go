package handler

import (
	"net/http"

	"gymledger/internal/config"
	"gymledger/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SetupRouter wires middleware and routes. gatherer backs /metrics.
func SetupRouter(h *Handler, db *gorm.DB, cfg *config.Config, m *metrics.Metrics, gatherer prometheus.Gatherer, log logrus.FieldLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())
	r.Use(MetricsMiddleware(m))

	api := r.Group("/api/v1")
	api.Use(NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst).Middleware())
	{
		receivable := api.Group("/receivable")
		{
			receivable.POST("/create", h.CreateReceivable)
			receivable.GET("/detail", h.GetReceivable)
			receivable.POST("/settle", h.RecordSettlement)
			receivable.POST("/recompute", h.Recompute)
			receivable.GET("/breakdown", h.Breakdown)
			receivable.GET("/overdue", h.ListOverdue)
			receivable.GET("/lookup", h.LookupBySource)
			receivable.GET("/list", h.ListReceivables)
		}

		credit := api.Group("/credit")
		{
			credit.GET("/balance", h.GetBalance)
			credit.GET("/display", h.DisplayBalance)
			credit.POST("/grant", h.Grant)
			credit.POST("/consume", h.Consume)
			credit.POST("/deduct", h.Deduct)
			credit.GET("/report", h.CreditReport)
			credit.POST("/rebuild", h.RebuildCredits)
		}

		request := api.Group("/request")
		{
			request.POST("/submit", h.SubmitRequest)
			request.POST("/transition", h.Transition)
			request.GET("/detail", h.GetRequest)
			request.GET("/pending", h.ListPending)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
