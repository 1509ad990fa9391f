package consumer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"chanhub/internal/asgi"
	"chanhub/internal/consumer"
	"chanhub/internal/layer"
	"chanhub/internal/testutil"
)

const testTimeout = time.Second

type WebsocketConsumerTestSuite struct {
	suite.Suite
	layer *layer.MemoryLayer
}

func (s *WebsocketConsumerTestSuite) SetupTest() {
	s.layer = layer.NewMemoryLayer(nil)
}

func (s *WebsocketConsumerTestSuite) TearDownTest() {
	s.layer.Close()
}

// echoConsumer builds a consumer that accepts and echoes text frames back
func (s *WebsocketConsumerTestSuite) echoConsumer() *consumer.WebsocketConsumer {
	return &consumer.WebsocketConsumer{
		Layer:         s.layer,
		ChannelPrefix: "test",
		OnReceive: func(ctx context.Context, conn *consumer.Conn, event asgi.Event) error {
			return conn.SendText(ctx, "echo: "+event.Text())
		},
	}
}

func (s *WebsocketConsumerTestSuite) TestAcceptAndEcho() {
	c := testutil.NewWebsocketCommunicator(s.echoConsumer(), "/ws", "")
	defer c.Stop()

	handshake, err := c.Connect(testTimeout)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), asgi.EventWSAccept, handshake.Type())

	require.NoError(s.T(), c.SendText("hello"))
	text, err := c.ReceiveText(testTimeout)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "echo: hello", text)

	require.NoError(s.T(), c.Disconnect(1000, testTimeout))
}

func (s *WebsocketConsumerTestSuite) TestRefuseConnection() {
	ws := &consumer.WebsocketConsumer{
		OnConnect: func(ctx context.Context, conn *consumer.Conn) error {
			if err := conn.Close(ctx, 4001); err != nil {
				return err
			}
			return consumer.ErrStopConsumer
		},
	}
	c := testutil.NewWebsocketCommunicator(ws, "/ws", "")
	defer c.Stop()

	handshake, err := c.Connect(testTimeout)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), asgi.EventWSClose, handshake.Type())
	assert.Equal(s.T(), 4001, handshake.CloseCode())

	require.NoError(s.T(), c.Wait(testTimeout))
}

func (s *WebsocketConsumerTestSuite) TestGroupBroadcastReachesSocket() {
	broadcast := func() *consumer.WebsocketConsumer {
		return &consumer.WebsocketConsumer{
			Layer:         s.layer,
			Groups:        []string{"room-1"},
			ChannelPrefix: "test",
			LayerHandlers: map[string]func(ctx context.Context, conn *consumer.Conn, msg layer.Message) error{
				"room.event": func(ctx context.Context, conn *consumer.Conn, msg layer.Message) error {
					text, _ := msg["text"].(string)
					return conn.SendText(ctx, text)
				},
			},
		}
	}

	a := testutil.NewWebsocketCommunicator(broadcast(), "/ws", "")
	defer a.Stop()
	b := testutil.NewWebsocketCommunicator(broadcast(), "/ws", "")
	defer b.Stop()

	_, err := a.Connect(testTimeout)
	require.NoError(s.T(), err)
	_, err = b.Connect(testTimeout)
	require.NoError(s.T(), err)

	// group membership is established asynchronously after accept
	require.Eventually(s.T(), func() bool {
		s.layer.GroupSend(context.Background(), "room-1", layer.Message{
			"type": "room.event",
			"text": "ping",
		})
		ta, errA := a.ReceiveText(100 * time.Millisecond)
		return errA == nil && ta == "ping"
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *WebsocketConsumerTestSuite) TestDisconnectLeavesGroups() {
	ws := &consumer.WebsocketConsumer{
		Layer:         s.layer,
		Groups:        []string{"room-2"},
		ChannelPrefix: "test",
	}
	c := testutil.NewWebsocketCommunicator(ws, "/ws", "")
	_, err := c.Connect(testTimeout)
	require.NoError(s.T(), err)
	require.NoError(s.T(), c.Disconnect(1001, testTimeout))

	// after a clean disconnect nobody is left in the group: the broadcast
	// lands in no channel
	require.NoError(s.T(), s.layer.GroupSend(context.Background(), "room-2", layer.Message{"type": "x"}))
	assert.True(s.T(), c.ReceiveNothing(100*time.Millisecond))
}

func (s *WebsocketConsumerTestSuite) TestStopConsumerFromReceive() {
	ws := &consumer.WebsocketConsumer{
		Layer:         s.layer,
		ChannelPrefix: "test",
		OnReceive: func(ctx context.Context, conn *consumer.Conn, event asgi.Event) error {
			if event.Text() == "quit" {
				return consumer.ErrStopConsumer
			}
			return nil
		},
	}
	c := testutil.NewWebsocketCommunicator(ws, "/ws", "")
	defer c.Stop()

	_, err := c.Connect(testTimeout)
	require.NoError(s.T(), err)
	require.NoError(s.T(), c.SendText("quit"))

	// handler-requested stop ends the application cleanly
	assert.NoError(s.T(), c.Wait(testTimeout))
}

func (s *WebsocketConsumerTestSuite) TestRejectsNonConnectOpen() {
	ws := s.echoConsumer()
	ac := testutil.NewApplicationCommunicator(ws, &asgi.Scope{Type: asgi.ScopeWebsocket})
	defer ac.Stop()

	require.NoError(s.T(), ac.SendInput(asgi.WebsocketReceiveText("too early")))
	err := ac.Wait(testTimeout)
	assert.Error(s.T(), err)
}

func TestWebsocketConsumerTestSuite(t *testing.T) {
	suite.Run(t, new(WebsocketConsumerTestSuite))
}
