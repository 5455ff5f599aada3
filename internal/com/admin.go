package com

import (
	"net/http"
	"time"

	"github.com/danmuck/comlink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

// AdminRouter serves health, readiness, connection counts and Prometheus
// metrics for the host.
func (h *Host) AdminRouter(corsOrigins []string) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("admin", h.cfg.Name)))
	r.Use(observability.RequestMetricsMiddleware(h.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(h.started).String(),
			"host":    h.cfg.Name,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(h.started).String(),
			"host":    h.cfg.Name,
			"version": version,
		})
	})

	r.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"active":   h.ActiveConnections(),
			"accepted": h.AcceptedConnections(),
			"protocol": gin.H{
				"name":               h.protocol.Name,
				"version":            h.protocol.Version,
				"byte_order":         h.protocol.ByteOrder.String(),
				"inactivity_timeout": h.protocol.InactivityTimeout.String(),
				"tls":                h.tlsCfg != nil,
			},
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
