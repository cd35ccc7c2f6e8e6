/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/seliom/fiskal"
	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/internal/apierror"
	"github.com/seliom/fiskal/model"
)

// serveTLS starts the ops server with certmagic-managed certificates.
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "path/to/certmagic/storage"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTPS server: %v", err)
	}
	return nil
}

// initializeRouter builds the admission and ops API. Admission endpoints are
// thin: validate, persist, enqueue, return the row. The pipeline does the
// rest asynchronously.
func initializeRouter(f *fiskalInstance) *gin.Engine {
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		queues := []string{
			f.cnf.Queue.DocumentQueue,
			f.cnf.Queue.ShipmentQueue,
			f.cnf.Queue.ReportQueue,
			f.cnf.Queue.WebhookQueue,
		}
		stats := make(map[string]gin.H, len(queues))
		healthy := true
		for _, queueName := range queues {
			pending, active, err := f.queue.QueueStats(queueName)
			if err != nil {
				healthy = false
				stats[queueName] = gin.H{"error": err.Error()}
				continue
			}
			stats[queueName] = gin.H{"pending": pending, "active": active}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "queues": stats})
	})

	router.POST("/documents", func(c *gin.Context) {
		var doc model.FiscalDocument
		if err := c.ShouldBindJSON(&doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		saved, err := f.fiskal.RecordDocument(c.Request.Context(), &doc)
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, saved)
	})

	// Generic queue admission. The typed endpoints above are the normal
	// entry points; this one exists for re-driving work by hand.
	router.POST("/enqueue", func(c *gin.Context) {
		var req struct {
			QueueName string             `json:"queue_name"`
			Action    string             `json:"action"`
			Payload   *model.TaskPayload `json:"payload"`
			DelayMs   int64              `json:"delay_ms"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.QueueName == "" || req.Action == "" || req.Payload == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "queue_name, action and payload are required"})
			return
		}
		delay := time.Duration(req.DelayMs) * time.Millisecond
		if err := f.queue.Enqueue(c.Request.Context(), req.QueueName, req.Action, req.Payload, delay); err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	})

	router.GET("/documents/:id", func(c *gin.Context) {
		doc, err := f.fiskal.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	router.POST("/guides", func(c *gin.Context) {
		var guide model.ShipmentGuide
		if err := c.ShouldBindJSON(&guide); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		saved, err := f.fiskal.RecordGuide(c.Request.Context(), &guide)
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, saved)
	})

	router.POST("/reports", func(c *gin.Context) {
		var req struct {
			TenantID string `json:"tenant_id"`
			Period   string `json:"period"`
			Kind     string `json:"kind"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		report, err := f.fiskal.RequestReport(c.Request.Context(), req.TenantID, req.Period, req.Kind)
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, report)
	})

	router.GET("/reports/:id", func(c *gin.Context) {
		report, err := f.fiskal.GetReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	return router
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// serverCommands returns the command that starts the admission server.
func serverCommands(f *fiskalInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start fiskal server",
		Run: func(cmd *cobra.Command, args []string) {
			f.queue = fiskal.NewQueue(f.cnf)

			router := initializeRouter(f)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
