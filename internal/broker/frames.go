package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Outbound stream requests are framed as: endpoint\nid\n\nbody.
// The body is raw text: JSON for most endpoints, the bare access token for
// authorize. Inbound frames are SockJS-style envelopes: 'o' open,
// 'h' heartbeat, 'c' close, 'a' followed by a JSON array of messages.

// heartbeatFrame keeps a stream alive; the server drops connections that
// stay silent past its timeout window.
var heartbeatFrame = []byte("[]")

type frameKind int

const (
	frameOpen frameKind = iota
	frameHeartbeat
	frameClose
	frameData
)

// serverMessage is one element of an 'a' envelope: either a reply to a
// framed request (s/i set) or a pushed event (e set).
type serverMessage struct {
	Status int             `json:"s"`
	ID     int64           `json:"i"`
	Event  string          `json:"e"`
	Data   json.RawMessage `json:"d"`
}

// encodeFrame builds an outbound request frame.
func encodeFrame(endpoint string, id int64, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(endpoint) + len(body) + 24)
	buf.WriteString(endpoint)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(id, 10))
	buf.WriteString("\n\n")
	buf.Write(body)
	return buf.Bytes()
}

// decodeFrame classifies a raw inbound frame and extracts any contained
// messages. An empty frame counts as a heartbeat.
func decodeFrame(raw []byte) (frameKind, []serverMessage, error) {
	if len(raw) == 0 {
		return frameHeartbeat, nil, nil
	}

	switch raw[0] {
	case 'o':
		return frameOpen, nil, nil
	case 'h':
		return frameHeartbeat, nil, nil
	case 'c':
		return frameClose, nil, nil
	case 'a':
		var msgs []serverMessage
		if err := json.Unmarshal(raw[1:], &msgs); err != nil {
			return frameData, nil, fmt.Errorf("failed to decode stream envelope: %w", err)
		}
		return frameData, msgs, nil
	default:
		return frameData, nil, fmt.Errorf("unrecognized stream frame starting with %q", raw[0])
	}
}
