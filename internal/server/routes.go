package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/protoscope/internal/catalog"
	"github.com/danmuck/protoscope/internal/fuzzer"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/frames", s.handleFrame)

	s.router.GET("/catalog", s.handleCatalog)
	s.router.GET("/catalog/export/:format", s.handleExport)
	s.router.POST("/catalog/import", s.handleImport)
	s.router.POST("/catalog/reset", s.handleReset)
	s.router.GET("/stats", s.handleStats)

	s.router.POST("/fuzz/start", s.handleFuzzStart)
	s.router.POST("/fuzz/stop", s.handleFuzzStop)
	s.router.GET("/fuzz/status", s.handleFuzzStatus)
	s.router.GET("/fuzz/results", s.handleFuzzResults)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).String(),
		"service": "protoscope",
		"version": "0.1.0",
	})
}

type frameRequest struct {
	Raw       string     `json:"raw"`
	Direction string     `json:"direction"`
	Timestamp *time.Time `json:"timestamp"`
}

func (s *Server) handleFrame(c *gin.Context) {
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "raw must be base64"})
		return
	}
	dir, ok := parseDirection(req.Direction)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be sent or received"})
		return
	}
	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	report := s.analyzer.Ingest(&catalog.Frame{Raw: raw, Direction: dir, Timestamp: at})
	resp := gin.H{
		"decoded": report.Decoded,
		"action":  report.Action,
		"bucket":  report.Bucket,
		"delta":   report.Delta.String(),
	}
	if report.DecodeErr != nil {
		resp["decode_error"] = report.DecodeErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func parseDirection(raw string) (catalog.Direction, bool) {
	switch raw {
	case "sent":
		return catalog.DirectionSent, true
	case "received":
		return catalog.DirectionReceived, true
	default:
		return 0, false
	}
}

func (s *Server) handleCatalog(c *gin.Context) {
	actions := s.catalog.All()
	out := make([]gin.H, 0, len(actions))
	for _, act := range actions {
		fields := make([]gin.H, 0, len(act.Shape))
		for _, f := range act.Shape {
			fields = append(fields, gin.H{
				"key":      f.Key,
				"kinds":    f.Kinds.String(),
				"optional": f.Optional,
			})
		}
		out = append(out, gin.H{
			"name":       act.Name,
			"count":      act.Count,
			"directions": act.Directions.Strings(),
			"first_seen": act.FirstSeen,
			"last_seen":  act.LastSeen,
			"fields":     fields,
			"samples":    len(act.Samples),
		})
	}
	c.JSON(http.StatusOK, gin.H{"actions": out})
}

func (s *Server) handleExport(c *gin.Context) {
	var format catalog.ExportFormat
	contentType := "text/plain; charset=utf-8"
	switch c.Param("format") {
	case "raw":
		format = catalog.FormatRaw
		contentType = "application/json"
	case "doc":
		format = catalog.FormatDoc
	case "stubs":
		format = catalog.FormatStubs
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": catalog.ErrUnknownFormat.Error()})
		return
	}
	data, err := s.catalog.Export(format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleImport(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.catalog.Import(data); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrImportMalformed) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "actions": s.catalog.Len()})
}

func (s *Server) handleReset(c *gin.Context) {
	s.catalog.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.analyzer.Stats()
	c.JSON(http.StatusOK, gin.H{
		"frames":      stats.Frames,
		"undecodable": stats.Undecodable,
		"last_error":  stats.LastError,
		"buckets":     stats.Buckets,
		"actions":     s.catalog.Len(),
	})
}

type fuzzStartRequest struct {
	Mode        string `json:"mode"`
	Parallelism int    `json:"parallelism"`
	DelayMS     int    `json:"delay_ms"`
}

func (s *Server) handleFuzzStart(c *gin.Context) {
	var req fuzzStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode"})
		return
	}
	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = s.cfg.Fuzz.Parallelism
	}
	delay := time.Duration(req.DelayMS) * time.Millisecond
	if req.DelayMS <= 0 {
		delay = s.cfg.Fuzz.Delay()
	}

	if err := s.session.Start(context.Background(), mode, parallelism, delay); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fuzzer.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, fuzzer.ErrNoSender):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "running",
		"mode":        mode.String(),
		"parallelism": parallelism,
		"delay_ms":    delay.Milliseconds(),
	})
}

func parseMode(raw string) (fuzzer.Mode, bool) {
	switch raw {
	case "discovery":
		return fuzzer.ModeDiscovery, true
	case "boundary":
		return fuzzer.ModeBoundary, true
	case "type_confusion":
		return fuzzer.ModeTypeConfusion, true
	case "sequence_break":
		return fuzzer.ModeSequenceBreak, true
	default:
		return 0, false
	}
}

func (s *Server) handleFuzzStop(c *gin.Context) {
	s.session.Stop()
	c.JSON(http.StatusOK, gin.H{"status": s.session.Status().State.String()})
}

func (s *Server) handleFuzzStatus(c *gin.Context) {
	st := s.session.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":       st.State.String(),
		"mode":        st.Mode.String(),
		"parallelism": st.Parallelism,
		"delay_ms":    st.Delay.Milliseconds(),
		"stop_reason": st.StopReason,
		"counters": gin.H{
			"sent":        st.Counters.Sent,
			"failures":    st.Counters.Failures,
			"new_actions": st.Counters.NewActions,
			"anomalies":   st.Counters.Anomalies,
		},
	})
}

func (s *Server) handleFuzzResults(c *gin.Context) {
	results := s.session.Results()
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		out = append(out, gin.H{
			"id":           r.ID,
			"lane":         r.Lane,
			"action":       r.Action,
			"mutation":     r.Mutation,
			"sent_at":      r.SentAt,
			"error":        r.Err,
			"response_len": r.ResponseLen,
			"new_action":   r.NewAction,
			"anomaly":      r.Anomaly,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}
