package handlers

import (
	"net/http"
	"time"

	"deskflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SystemHandler 健康检查与运行指标
type SystemHandler struct {
	db      *gorm.DB
	started time.Time
	version string
}

func NewSystemHandler(db *gorm.DB, version string) *SystemHandler {
	return &SystemHandler{db: db, started: time.Now(), version: version}
}

// Health 存活检查
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Ready 就绪检查，验证数据库连通性
func (h *SystemHandler) Ready(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Metrics 引擎与限流计数快照
func (h *SystemHandler) Metrics(c *gin.Context) {
	rlTotal, rlByPrefix := metrics.RateLimitSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"engine": metrics.EngineSnapshot(),
		"rate_limit": gin.H{
			"dropped_total":     rlTotal,
			"dropped_by_prefix": rlByPrefix,
		},
	})
}

// RegisterSystemRoutes 注册公共路由（无需鉴权）
func RegisterSystemRoutes(r *gin.Engine, handler *SystemHandler, metricsPath string) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(metricsPath, handler.Metrics)
}
