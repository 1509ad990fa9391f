package asgi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event dictionaries exchanged between gateway and application.
// Every event is a JSON-style object keyed by a "type" discriminator,
// matching the documented message shapes for http and websocket scopes.

const (
	// http scope events
	EventHTTPRequest       = "http.request"
	EventHTTPResponseStart = "http.response.start"
	EventHTTPResponseBody  = "http.response.body"
	EventHTTPDisconnect    = "http.disconnect"

	// websocket scope events
	EventWSConnect    = "websocket.connect"
	EventWSAccept     = "websocket.accept"
	EventWSReceive    = "websocket.receive"
	EventWSSend       = "websocket.send"
	EventWSClose      = "websocket.close"
	EventWSDisconnect = "websocket.disconnect"
)

var ErrMissingType = errors.New("asgi: event has no string 'type' key")

type Event map[string]any

// Type returns the event discriminator, or "" when missing/not a string
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Validate rejects events without a usable type key before they reach a
// layer or a consumer
func (e Event) Validate() error {
	if e.Type() == "" {
		return ErrMissingType
	}
	return nil
}

// Text returns the "text" payload of a receive/send event, or ""
func (e Event) Text() string {
	t, _ := e["text"].(string)
	return t
}

// Bytes returns the "bytes" payload of a receive/send event, or nil
func (e Event) Bytes() []byte {
	switch v := e["bytes"].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// CloseCode returns the "code" of a close/disconnect event, defaulting to 1000
func (e Event) CloseCode() int {
	switch v := e["code"].(type) {
	case int:
		return v
	case float64: // json.Unmarshal decodes numbers to float64
		return int(v)
	default:
		return 1000
	}
}

// ToJSON: marshal Event to JSON
func (e Event) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("asgi: marshal event: %w", err)
	}
	return data, nil
}

// EventFromJSON: unmarshal JSON data to an Event
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("asgi: unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Constructors for the documented event shapes

func WebsocketConnect() Event {
	return Event{"type": EventWSConnect}
}

func WebsocketAccept(subprotocol string) Event {
	e := Event{"type": EventWSAccept}
	if subprotocol != "" {
		e["subprotocol"] = subprotocol
	}
	return e
}

func WebsocketReceiveText(text string) Event {
	return Event{"type": EventWSReceive, "text": text}
}

func WebsocketReceiveBytes(data []byte) Event {
	return Event{"type": EventWSReceive, "bytes": data}
}

func WebsocketSendText(text string) Event {
	return Event{"type": EventWSSend, "text": text}
}

func WebsocketSendBytes(data []byte) Event {
	return Event{"type": EventWSSend, "bytes": data}
}

func WebsocketClose(code int) Event {
	return Event{"type": EventWSClose, "code": code}
}

func WebsocketDisconnect(code int) Event {
	return Event{"type": EventWSDisconnect, "code": code}
}

func HTTPRequest(body []byte, more bool) Event {
	return Event{"type": EventHTTPRequest, "body": body, "more_body": more}
}

func HTTPResponseStart(status int, headers []Header) Event {
	return Event{"type": EventHTTPResponseStart, "status": status, "headers": headers}
}

func HTTPResponseBody(body []byte, more bool) Event {
	return Event{"type": EventHTTPResponseBody, "body": body, "more_body": more}
}

func HTTPDisconnect() Event {
	return Event{"type": EventHTTPDisconnect}
}
