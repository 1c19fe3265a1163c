package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"kraken-gateway/internal/balance"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.authMgr == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "auth is disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	token, err := s.authMgr.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"breaker":    s.deps.Breaker.GetStats(),
		"last_nonce": s.deps.Nonces.Last(),
	}

	assets, fetchedAt := s.deps.Balance.Snapshot()
	status["balance"] = gin.H{
		"assets":     len(assets),
		"fetched_at": fetchedAt,
	}

	// Exchange status is nice to have; don't fail the whole endpoint on it
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if sys, err := s.deps.Kraken.SystemStatus(ctx); err == nil {
		status["exchange"] = sys
	} else {
		status["exchange_error"] = err.Error()
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleNonce(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"last_nonce": s.deps.Nonces.Last()})
}

func (s *Server) handleBreaker(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Breaker.GetStats())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.deps.Breaker.ForceReset()
	s.logger.Warn("circuit breaker manually reset", "request_id", c.GetString("request_id"))
	c.JSON(http.StatusOK, s.deps.Breaker.GetStats())
}

func (s *Server) handleBalanceSnapshot(c *gin.Context) {
	assets, fetchedAt := s.deps.Balance.Snapshot()
	if assets == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no balance snapshot available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balances":   assets,
		"fetched_at": fetchedAt,
	})
}

func (s *Server) handleBalance(c *gin.Context) {
	asset := c.Param("asset")

	maxAge := balance.InfiniteAge
	if v := c.Query("max_age_seconds"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_age_seconds"})
			return
		}
		maxAge = time.Duration(seconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	amount, err := s.deps.Balance.Get(ctx, asset, maxAge)
	if err != nil && amount.Freshness == balance.Unavailable {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     err.Error(),
			"freshness": amount.Freshness,
		})
		return
	}

	resp := gin.H{
		"asset":      amount.Asset,
		"value":      amount.Value,
		"freshness":  amount.Freshness,
		"fetched_at": amount.FetchedAt,
	}
	if err != nil {
		resp["refresh_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBalanceInvalidate(c *gin.Context) {
	s.deps.Balance.Invalidate()
	c.JSON(http.StatusOK, gin.H{"invalidated": true})
}

func (s *Server) handleBalanceHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "history database is disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, err := s.deps.History.LatestBalances(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query balance history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": rows})
}
