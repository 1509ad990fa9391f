package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"chanhub/internal/consumer"
	"chanhub/internal/layer"
)

// Gateway server: terminates WebSocket connections and bridges them to an
// application over the channel layer, plus a small HTTP API for injecting
// messages into channels and groups from the outside.

type Server struct {
	addr      string
	layer     layer.Layer
	jwtSecret string
	logger    *slog.Logger

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[string]*Client
	// map store all active bridged connections
	// key: client ID, value: Client pointer
}

// constructor for Server
func NewServer(addr string, l layer.Layer, jwtSecret string) *Server {
	return &Server{
		addr:      addr,
		layer:     l,
		jwtSecret: jwtSecret,
		logger:    slog.Default(),
		clients:   make(map[string]*Client),
	}
}

// Router builds the gin engine with all gateway routes
func (s *Server) Router(app consumer.Application) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.HealthHandler)
	engine.GET("/ws", s.WSHandler(app))
	engine.POST("/api/channels/:channel/send", s.ChannelSendHandler)
	engine.POST("/api/groups/:group/send", s.GroupSendHandler)

	return engine
}

// Start runs the HTTP server until Stop is called
func (s *Server) Start(app consumer.Application) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(app),
	}
	s.logger.Info("gateway_started",
		"addr", s.addr,
		"auth_enabled", s.jwtSecret != "",
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

// Stop shuts the server down, giving in-flight requests a grace window
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// close active websocket bridges first so Shutdown does not wait on them
	s.mu.Lock()
	for id, client := range s.clients {
		client.CloseWithCode(1001, "server shutting down")
		s.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) addClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, client.ID)
}

// ClientCount returns the number of live bridged connections
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HealthHandler: liveness probe
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// ChannelSendHandler: inject a message into a single channel
func (s *Server) ChannelSendHandler(c *gin.Context) {
	channel := c.Param("channel")
	var msg layer.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if err := s.layer.Send(c.Request.Context(), channel, msg); err != nil {
		switch {
		case errors.Is(err, layer.ErrChannelFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "channel is at capacity"})
		case errors.Is(err, layer.ErrInvalidChannelName), errors.Is(err, layer.ErrInvalidMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "channel": channel})
}

// GroupSendHandler: broadcast a message to every member of a group
func (s *Server) GroupSendHandler(c *gin.Context) {
	group := c.Param("group")
	var msg layer.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if err := s.layer.GroupSend(c.Request.Context(), group, msg); err != nil {
		switch {
		case errors.Is(err, layer.ErrInvalidGroupName), errors.Is(err, layer.ErrInvalidMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "group": group})
}
