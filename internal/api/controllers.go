package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/pkg/db"
)

func (s *Server) getStatus(c *gin.Context) {
	snap := s.Engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"engine": snap,
		"meta": gin.H{
			"dry_run": s.Meta.DryRun,
			"venue":   s.Meta.Venue,
			"version": s.Meta.Version,
		},
	})
}

func (s *Server) getQueue(c *gin.Context) {
	signals := s.Queue.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"pending": s.Queue.Pending(),
		"signals": signals,
	})
}

func (s *Server) getPortfolio(c *gin.Context) {
	coins := s.Portfolio.Coins()
	balances := make(map[string]string, len(coins))
	positions := make(map[string]string, len(coins))
	for coin, free := range coins {
		balances[coin] = free.String()
		if coin == "USDT" {
			continue
		}
		symbol := coin + "USDT"
		if v := s.Portfolio.PositionValue(symbol); !v.IsZero() {
			positions[symbol] = v.StringFixed(2)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"balances":       balances,
		"position_value": positions,
		"refreshed_at":   s.Portfolio.LastRefresh(),
	})
}

func (s *Server) getTrades(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	trades, err := s.DB.RecentTrades(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getRejections(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	rejections, err := s.DB.RecentRejections(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejections": rejections})
}

func (s *Server) getEvents(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	evs, err := s.DB.RecentAuditEvents(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// getStats reports the daily counters the recorder accumulates. A day with no
// recorded activity reads as all zeros rather than 404.
func (s *Server) getStats(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store disabled"})
		return
	}
	date := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	stats, err := s.DB.StatsForDate(c.Request.Context(), date)
	if errors.Is(err, db.ErrNotFound) {
		stats = &db.DailyStats{Date: date}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) pauseEngine(c *gin.Context) {
	s.Engine.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) resumeEngine(c *gin.Context) {
	s.Engine.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
