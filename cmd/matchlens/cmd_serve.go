// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/matchlens/services/analyst"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis pipeline over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

// debugStore keeps the most recent request carriers for /v1/debug/:id.
type debugStore struct {
	mu       sync.Mutex
	capacity int
	order    []string
	carriers map[string]*pipeline.Carrier
}

func newDebugStore(capacity int) *debugStore {
	return &debugStore{
		capacity: capacity,
		carriers: make(map[string]*pipeline.Carrier),
	}
}

func (d *debugStore) put(c *pipeline.Carrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.carriers[c.RequestID]; !exists {
		d.order = append(d.order, c.RequestID)
	}
	d.carriers[c.RequestID] = c
	for len(d.order) > d.capacity {
		delete(d.carriers, d.order[0])
		d.order = d.order[1:]
	}
}

func (d *debugStore) get(id string) (*pipeline.Carrier, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.carriers[id]
	return c, ok
}

// initMetricsProvider routes the pipeline's otel metrics to a Prometheus
// registry served at /metrics.
func initMetricsProvider() error {
	exporter, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return nil
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := initMetricsProvider(); err != nil {
		return err
	}

	svc, logger, cleanup, err := buildService("serve")
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("matchlens"))

	store := newDebugStore(100)
	setupRoutes(router, svc, store)

	logger.Info("serving match analysis",
		slog.String("addr", addr),
		slog.String("database", cfg.Database.Path),
	)
	return router.Run(addr)
}

func setupRoutes(router *gin.Engine, svc *analyst.Service, store *debugStore) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/ask", handleAsk(svc, store))
		v1.GET("/debug/:id", handleDebug(store))
	}
}

func handleAsk(svc *analyst.Service, store *debugStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
			return
		}

		resp, err := svc.Process(c.Request.Context(), req.Question)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		store.put(resp.Carrier)

		status := http.StatusOK
		if !resp.Success {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, resp)
	}
}

func handleDebug(store *debugStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		carrier, ok := store.get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown request id"})
			return
		}
		c.JSON(http.StatusOK, carrier.DebugSnapshot(0))
	}
}
