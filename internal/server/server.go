// Package server exposes the engine over HTTP for the surrounding shell.
//
// Ownership boundary:
// - request/response shapes for frames, catalog, stats, and fuzz control
// - route registration and middleware
//
// The server holds no protocol state of its own; everything lives in the
// catalog, analyzer, and session it is handed.
package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/protoscope/internal/analyzer"
	"github.com/danmuck/protoscope/internal/catalog"
	"github.com/danmuck/protoscope/internal/config"
	"github.com/danmuck/protoscope/internal/fuzzer"
)

type Server struct {
	cfg       config.Config
	catalog   *catalog.Catalog
	analyzer  *analyzer.Analyzer
	session   *fuzzer.Session
	router    *gin.Engine
	startedAt time.Time
}

func New(cfg config.Config, cat *catalog.Catalog, an *analyzer.Analyzer, sess *fuzzer.Session) *Server {
	s := &Server{
		cfg:       cfg,
		catalog:   cat,
		analyzer:  an,
		session:   sess,
		router:    gin.New(),
		startedAt: time.Now(),
	}

	// Middleware: keep it lean
	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s.registerRoutes()
	return s
}

func (s *Server) Run(addr string) error {
	log.Info().Str("addr", addr).Msg("server.listen")
	return s.router.Run(addr)
}

// Router is exposed for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
