package api

import (
	"net/http"
	"time"

	"signal-core/internal/engine"
	"signal-core/internal/portfolio"
	"signal-core/internal/queue"
	"signal-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server exposes read-only status endpoints plus pause/resume control.
type Server struct {
	Router    *gin.Engine
	Engine    *engine.Engine
	Queue     *queue.Queue
	Portfolio *portfolio.State
	DB        *db.Database
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	DryRun  bool
	Venue   string
	Version string
}

func NewServer(eng *engine.Engine, q *queue.Queue, pf *portfolio.State, database *db.Database, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    eng,
		Queue:     q,
		Portfolio: pf,
		DB:        database,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/queue", s.getQueue)
		api.GET("/portfolio", s.getPortfolio)
		api.GET("/trades", s.getTrades)
		api.GET("/rejections", s.getRejections)
		api.GET("/events", s.getEvents)
		api.GET("/stats", s.getStats)

		api.POST("/engine/pause", s.pauseEngine)
		api.POST("/engine/resume", s.resumeEngine)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
