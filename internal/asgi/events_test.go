package asgi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFromJSON(t *testing.T) {
	event, err := EventFromJSON([]byte(`{"type":"websocket.receive","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, EventWSReceive, event.Type())
	assert.Equal(t, "hi", event.Text())

	// events without a type discriminator are rejected at the boundary
	_, err = EventFromJSON([]byte(`{"text":"hi"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = EventFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestEventAccessors(t *testing.T) {
	assert.Equal(t, 4001, Event{"type": EventWSClose, "code": 4001}.CloseCode())
	// json decoding turns numbers into float64
	assert.Equal(t, 4001, Event{"type": EventWSClose, "code": float64(4001)}.CloseCode())
	// absent code defaults to normal closure
	assert.Equal(t, 1000, Event{"type": EventWSClose}.CloseCode())

	assert.Equal(t, []byte("raw"), Event{"bytes": []byte("raw")}.Bytes())
	assert.Nil(t, Event{}.Bytes())
}

func TestNewWebsocketScope(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?room=lobby&token=abc", nil)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("Sec-WebSocket-Protocol", "chat.v1, chat.v2")

	scope := NewWebsocketScope(r)
	assert.Equal(t, ScopeWebsocket, scope.Type)
	assert.Equal(t, "/ws", scope.Path)
	assert.Equal(t, "room=lobby&token=abc", scope.RawQuery)
	assert.Equal(t, "http://example.com", scope.Header("origin"))
	assert.Equal(t, []string{"chat.v1", "chat.v2"}, scope.Subprotocols)
	assert.Nil(t, scope.Auth)
}

func TestScopeHeadersSortedByName(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-Request-ID", "r1")
	r.Header.Set("Authorization", "Bearer t")
	r.Header.Set("Origin", "http://example.com")

	scope := NewWebsocketScope(r)
	names := make([]string, 0, len(scope.Headers))
	for _, h := range scope.Headers {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"authorization", "origin", "x-request-id"}, names)

	// capture order is stable across requests with identical headers
	again := NewWebsocketScope(r)
	assert.Equal(t, scope.Headers, again.Headers)
}
