package asgi

import (
	"net/http"
	"sort"
	"strings"
)

// Scope describes one connection for the lifetime of an application instance:
// the protocol type plus the request metadata the gateway captured at accept
// time. Events then flow over the scope until the connection ends.

const (
	ScopeHTTP      = "http"
	ScopeWebsocket = "websocket"
	ScopeChannel   = "channel" // worker dispatch from a named channel
)

// Header is a single name/value pair
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AuthClaims carries identity established by the gateway, when any
type AuthClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type Scope struct {
	Type         string      `json:"type"`                   // "http", "websocket" or "channel"
	Path         string      `json:"path,omitempty"`         // URL path for http/websocket scopes
	RawQuery     string      `json:"query,omitempty"`        // undecoded query string
	Headers      []Header    `json:"headers,omitempty"`      // request headers, sorted by name
	Client       string      `json:"client,omitempty"`       // remote host:port
	Server       string      `json:"server,omitempty"`       // local host:port
	Channel      string      `json:"channel,omitempty"`      // source channel for "channel" scopes
	Auth         *AuthClaims `json:"auth,omitempty"`         // nil for anonymous connections
	Subprotocols []string    `json:"subprotocols,omitempty"` // offered websocket subprotocols
}

// NewWebsocketScope captures an upgrade request into a scope
func NewWebsocketScope(r *http.Request) *Scope {
	s := &Scope{
		Type:     ScopeWebsocket,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Client:   r.RemoteAddr,
		Server:   r.Host,
	}
	// map iteration order is random; sort names so two captures of the same
	// request produce the same scope
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			s.Headers = append(s.Headers, Header{Name: strings.ToLower(name), Value: v})
		}
	}
	if proto := r.Header.Get("Sec-Websocket-Protocol"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			s.Subprotocols = append(s.Subprotocols, strings.TrimSpace(p))
		}
	}
	return s
}

// NewChannelScope is the scope a worker hands to applications for messages
// pulled off a named channel
func NewChannelScope(channel string) *Scope {
	return &Scope{
		Type:    ScopeChannel,
		Channel: channel,
	}
}

// Header returns the first header value for name (lowercase), or ""
func (s *Scope) Header(name string) string {
	for _, h := range s.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}
