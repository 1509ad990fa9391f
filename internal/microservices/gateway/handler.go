package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
)

// HTTP upgrade handler bridging WebSocket connections to an application

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// allow all origins for development purpose; can restrict later
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// authClaims validates the bearer token and extracts identity claims.
// Tokens are accepted from the Authorization header or a "token" query
// parameter (browsers cannot set headers on websocket dials).
func authClaims(c *gin.Context, jwtSecret string) (*asgi.AuthClaims, error) {
	tokenString := ""
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tokenString = strings.TrimPrefix(h, "Bearer ")
	} else if q := c.Query("token"); q != "" {
		tokenString = q
	}
	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, errors.New("user_id claim is not a string")
	}
	username, ok := claims["username"].(string)
	if !ok {
		return nil, errors.New("username claim is not a string")
	}
	return &asgi.AuthClaims{UserID: userID, Username: username}, nil
}

// WSHandler: upgrade the HTTP connection and run app over the resulting scope
func (s *Server) WSHandler(app consumer.Application) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := asgi.NewWebsocketScope(c.Request)

		// empty secret = anonymous connects allowed
		if s.jwtSecret != "" {
			claims, err := authClaims(c, s.jwtSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: " + err.Error()})
				return
			}
			scope.Auth = claims
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the error response
			s.logger.Warn("upgrade_failed",
				"remote_addr", c.Request.RemoteAddr,
				"error", err.Error(),
			)
			return
		}

		client := NewClient(conn, scope)
		s.addClient(client)
		defer s.removeClient(client)

		s.logger.Info("client_connected",
			"client_id", client.ID,
			"path", scope.Path,
			"remote_addr", scope.Client,
		)
		s.runBridge(c.Request.Context(), client, app)
		s.logger.Info("client_disconnected",
			"client_id", client.ID,
		)
	}
}

// runBridge wires the client's pumps to the application's receive/send funcs
// and blocks until the application returns
func (s *Server) runBridge(ctx context.Context, client *Client, app consumer.Application) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan asgi.Event, 16)
	go client.WritePump()
	go client.ReadPump(ctx, events)

	receive := func(ctx context.Context) (asgi.Event, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil, consumer.ErrStopConsumer
			}
			return event, nil
		}
	}

	send := func(ctx context.Context, event asgi.Event) error {
		if err := event.Validate(); err != nil {
			return err
		}
		switch event.Type() {
		case asgi.EventWSAccept:
			// socket is already upgraded; accept just unblocks traffic
			client.accepted = true
			return nil
		case asgi.EventWSSend:
			if !client.accepted {
				return errors.New("gateway: send before accept")
			}
			if _, ok := event["text"]; ok {
				return client.Send(websocket.TextMessage, []byte(event.Text()))
			}
			return client.Send(websocket.BinaryMessage, event.Bytes())
		case asgi.EventWSClose:
			client.CloseWithCode(event.CloseCode(), "")
			return nil
		default:
			return fmt.Errorf("gateway: unsupported event type %q", event.Type())
		}
	}

	if err := app.Handle(ctx, client.Scope, receive, send); err != nil &&
		!errors.Is(err, context.Canceled) {
		s.logger.Error("application_error",
			"client_id", client.ID,
			"error", err.Error(),
		)
	}
	// stop accepting frames and let the write pump drain out
	cancel()
	client.CloseSend()
	<-client.done
}
