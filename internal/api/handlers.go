package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

func (s *Server) handleStatus(c *gin.Context) {
	state := s.coord.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"mode":              state.Mode,
		"account":           state.Account,
		"position_count":    len(state.Positions),
		"daily_trade_count": state.DailyTradeCount,
		"pending_alerts":    len(state.PendingAlerts),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	state := s.coord.Snapshot()
	out := make([]types.Position, 0, len(state.Positions))
	for _, p := range state.Positions {
		out = append(out, *p)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleWatchlist(c *gin.Context) {
	state := s.coord.Snapshot()
	out := make([]types.WatchedStock, 0, len(state.WatchList))
	for _, w := range state.WatchList {
		out = append(out, *w)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleActivity(c *gin.Context) {
	state := s.coord.Snapshot()
	c.JSON(http.StatusOK, state.ActivityLog)
}

func (s *Server) handlePause(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	s.coord.Pause(body.Reason)
	c.JSON(http.StatusOK, gin.H{"mode": "paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	s.coord.Resume()
	c.JSON(http.StatusOK, gin.H{"mode": "active"})
}

// handleStartAnalysis implements start_analysis.
func (s *Server) handleStartAnalysis(c *gin.Context) {
	var body struct {
		AssetID string `json:"asset_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.sess.StartAnalysis(body.AssetID)
	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

// handleGetSession implements get_analysis_status.
func (s *Server) handleGetSession(c *gin.Context) {
	session, ok := s.sess.GetStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleApprove(c *gin.Context) {
	var body struct {
		Quantity *float64 `json:"quantity"`
	}
	_ = c.ShouldBindJSON(&body)

	plan, err := s.sess.Approve(c.Request.Context(), c.Param("id"), body.Quantity)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleReject(c *gin.Context) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := s.sess.Reject(c.Param("id"), body.Feedback); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "re-analyzing"})
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.sess.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// handleAlertAction implements handle_alert_action.
func (s *Server) handleAlertAction(c *gin.Context) {
	var body struct {
		Action types.AlertAction `json:"action" binding:"required"`
		Data   map[string]any    `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coord.HandleAlertAction(c.Request.Context(), c.Param("id"), body.Action, body.Data); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
