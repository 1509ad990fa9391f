package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanhub/internal/asgi"
	"chanhub/internal/layer"
	"chanhub/internal/testutil"
)

func wsScope(rawQuery string, auth *asgi.AuthClaims) *asgi.Scope {
	return &asgi.Scope{
		Type:     asgi.ScopeWebsocket,
		Path:     "/ws",
		RawQuery: rawQuery,
		Auth:     auth,
	}
}

func TestRoomFromScope(t *testing.T) {
	assert.Equal(t, "general", roomFromScope(wsScope("room=general", nil)))
	assert.Equal(t, DefaultRoom, roomFromScope(wsScope("", nil)))
	assert.Equal(t, DefaultRoom, roomFromScope(wsScope("other=x", nil)))
	// invalid group names fall back instead of erroring mid-handshake
	assert.Equal(t, DefaultRoom, roomFromScope(wsScope("room=bad%20name", nil)))
	assert.Equal(t, DefaultRoom, roomFromScope(wsScope("%zz", nil)))
}

func TestSenderName(t *testing.T) {
	assert.Equal(t, "anonymous", senderName(wsScope("", nil)))
	assert.Equal(t, "riley", senderName(wsScope("", &asgi.AuthClaims{UserID: "u1", Username: "riley"})))
}

func TestChatBroadcastBetweenClients(t *testing.T) {
	l := layer.NewMemoryLayer(nil)
	defer l.Close()
	app := NewChatApplication(l)

	alice := testutil.NewWebsocketCommunicatorScope(app, wsScope("room=test-room", &asgi.AuthClaims{UserID: "u1", Username: "alice"}))
	defer alice.Stop()
	bob := testutil.NewWebsocketCommunicatorScope(app, wsScope("room=test-room", &asgi.AuthClaims{UserID: "u2", Username: "bob"}))
	defer bob.Stop()

	_, err := alice.Connect(time.Second)
	require.NoError(t, err)
	_, err = bob.Connect(time.Second)
	require.NoError(t, err)

	// group joins happen just after accept; retry until both are in the room
	var got map[string]any
	require.Eventually(t, func() bool {
		if err := alice.SendText("hello bob"); err != nil {
			return false
		}
		text, err := bob.ReceiveText(200 * time.Millisecond)
		if err != nil {
			return false
		}
		return json.Unmarshal([]byte(text), &got) == nil
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, "chat.message", got["type"])
	assert.Equal(t, "alice", got["user"])
	assert.Equal(t, "hello bob", got["text"])
	assert.Equal(t, "test-room", got["room"])
}

func TestChatIgnoresEmptyFrames(t *testing.T) {
	l := layer.NewMemoryLayer(nil)
	defer l.Close()
	app := NewChatApplication(l)

	c := testutil.NewWebsocketCommunicatorScope(app, wsScope("room=quiet", nil))
	defer c.Stop()
	_, err := c.Connect(time.Second)
	require.NoError(t, err)

	require.NoError(t, c.SendText(""))
	assert.True(t, c.ReceiveNothing(150*time.Millisecond))
}
