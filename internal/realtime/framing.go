package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type Framing string

const (
	// FramingRaw carries one JSON event per websocket text frame.
	FramingRaw Framing = "raw"
	// FramingSockJS speaks the SockJS websocket transport.
	FramingSockJS Framing = "sockjs"
)

var ErrBadFrame = errors.New("bad frame")

func ParseFraming(value string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(value))) {
	case "", FramingRaw:
		return FramingRaw, nil
	case FramingSockJS:
		return FramingSockJS, nil
	}
	return "", fmt.Errorf("unknown framing %q", value)
}

type frameKind int

const (
	frameMessages frameKind = iota
	frameOpen
	frameHeartbeat
	frameClose
)

type frame struct {
	kind        frameKind
	messages    [][]byte
	closeCode   int
	closeReason string
}

func decodeFrame(framing Framing, data []byte) (frame, error) {
	if framing == FramingSockJS {
		return decodeSockJS(data)
	}
	return frame{kind: frameMessages, messages: [][]byte{data}}, nil
}

func decodeSockJS(data []byte) (frame, error) {
	if len(data) == 0 {
		return frame{}, ErrBadFrame
	}
	body := data[1:]
	switch data[0] {
	case 'o':
		return frame{kind: frameOpen}, nil
	case 'h':
		return frame{kind: frameHeartbeat}, nil
	case 'a':
		var batch []string
		if err := json.Unmarshal(body, &batch); err != nil {
			return frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		messages := make([][]byte, 0, len(batch))
		for _, msg := range batch {
			messages = append(messages, []byte(msg))
		}
		return frame{kind: frameMessages, messages: messages}, nil
	case 'm':
		var msg string
		if err := json.Unmarshal(body, &msg); err != nil {
			return frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return frame{kind: frameMessages, messages: [][]byte{[]byte(msg)}}, nil
	case 'c':
		var payload []interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			return frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		f := frame{kind: frameClose}
		if len(payload) > 0 {
			if code, ok := payload[0].(float64); ok {
				f.closeCode = int(code)
			}
		}
		if len(payload) > 1 {
			if reason, ok := payload[1].(string); ok {
				f.closeReason = reason
			}
		}
		return f, nil
	}
	return frame{}, fmt.Errorf("%w: unknown type %q", ErrBadFrame, data[0])
}

// endpointURL normalizes the configured endpoint to a websocket URL. For
// SockJS a fresh server/session path is appended on every dial.
func endpointURL(raw string, framing Framing) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	if framing == FramingSockJS {
		serverID := fmt.Sprintf("%03d", rand.Intn(1000))
		sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
		u = u.JoinPath(serverID, sessionID, "websocket")
	}
	return u.String(), nil
}
