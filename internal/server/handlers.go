package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"
)

type syncRequest struct {
	UserID     string `json:"userId" binding:"required"`
	BrokerName string `json:"brokerName" binding:"required"`
	Symbol     string `json:"symbol"`
	Limit      int    `json:"limit"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "userId and brokerName are required"})
		return
	}

	result := s.cfg.Sync.SyncTrades(c.Request.Context(), req.UserID, req.BrokerName, ports.FetchOptions{
		Symbol: req.Symbol,
		Limit:  req.Limit,
	})
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

func (s *Server) handleGetTrades(c *gin.Context) {
	userID := c.Param("userId")

	filter := domain.TradeFilter{
		BrokerName: c.Query("brokerName"),
		Symbol:     c.Query("symbol"),
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}
	if v := c.Query("startDate"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid startDate"})
			return
		}
		filter.StartDate = t
	}
	if v := c.Query("endDate"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid endDate"})
			return
		}
		filter.EndDate = t
	}

	trades, err := s.cfg.Sync.GetUserTrades(c.Request.Context(), userID, filter)
	if err != nil {
		s.cfg.Logger.Error(c.Request.Context(), err, "Failed to query trades", map[string]interface{}{"userID": userID})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to query trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(trades),
		"trades":  trades,
	})
}

type connectRequest struct {
	UserID       string    `json:"userId" binding:"required"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	BrokerName   string    `json:"brokerName" binding:"required"`
	AccessToken  string    `json:"accessToken" binding:"required"`
	RefreshToken string    `json:"refreshToken"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
}

// defaultTokenLifetime covers brokers whose sessions last a trading day.
const defaultTokenLifetime = 6 * time.Hour

// defaultRefreshToken is stored when the client connects without one, so
// fixture-mode brokers can still exercise the refresh path once the access
// token expires.
const defaultRefreshToken = "mock_refresh_token"

func (s *Server) handleConnectBroker(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "userId, brokerName and accessToken are required"})
		return
	}

	ctx := c.Request.Context()
	brokerName := strings.ToLower(req.BrokerName)

	user, err := s.cfg.Users.FindByID(ctx, req.UserID)
	if err != nil {
		s.cfg.Logger.Error(ctx, err, "Failed to load user", map[string]interface{}{"userID": req.UserID})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load user"})
		return
	}
	if user == nil {
		user = &domain.User{UserID: req.UserID, Name: req.Name, Email: req.Email}
	}

	expiry := req.TokenExpiry
	if expiry.IsZero() {
		expiry = time.Now().Add(defaultTokenLifetime)
	}
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken = defaultRefreshToken
	}

	var conn *domain.BrokerConnection
	for _, existing := range user.Connections {
		if strings.EqualFold(existing.BrokerName, brokerName) {
			conn = existing
			break
		}
	}
	if conn == nil {
		conn = &domain.BrokerConnection{BrokerName: brokerName}
		user.Connections = append(user.Connections, conn)
	}
	conn.AccessToken = req.AccessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiry = expiry
	conn.IsActive = true

	if err := s.cfg.Users.Save(ctx, user); err != nil {
		s.cfg.Logger.Error(ctx, err, "Failed to save broker connection", map[string]interface{}{"userID": req.UserID, "broker": brokerName})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to save broker connection"})
		return
	}

	s.cfg.Logger.Info(ctx, "Broker connected", map[string]interface{}{"userID": req.UserID, "broker": brokerName})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": brokerName + " connected successfully",
	})
}

// connectionView is the public shape of a broker connection; tokens never
// leave the server.
type connectionView struct {
	BrokerName   string    `json:"brokerName"`
	IsActive     bool      `json:"isActive"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

func (s *Server) handleGetUser(c *gin.Context) {
	userID := c.Param("userId")

	user, err := s.cfg.Users.FindByID(c.Request.Context(), userID)
	if err != nil {
		s.cfg.Logger.Error(c.Request.Context(), err, "Failed to load user", map[string]interface{}{"userID": userID})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		return
	}

	connections := make([]connectionView, 0, len(user.Connections))
	for _, conn := range user.Connections {
		connections = append(connections, connectionView{
			BrokerName:   conn.BrokerName,
			IsActive:     conn.IsActive,
			TokenExpiry:  conn.TokenExpiry,
			LastSyncedAt: conn.LastSyncedAt,
			ConnectedAt:  conn.ConnectedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"userId":      user.UserID,
			"name":        user.Name,
			"email":       user.Email,
			"connections": connections,
		},
	})
}

// parseDateParam accepts RFC3339 or a plain calendar date.
func parseDateParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
