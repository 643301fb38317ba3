package domain

import "encoding/json"

// Client -> server frame actions.
const (
	ActionBroadcast = "broadcast"
	ActionPing      = "ping"
)

// Server -> client liveness acknowledgement.
const FrameTypePong = "pong"

// BroadcastFrame carries outgoing chat text.
type BroadcastFrame struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// PingFrame is the periodic keep-alive.
type PingFrame struct {
	Action string `json:"action"`
}

// InboundFrame is the union of everything the server may push. A frame
// with Content set is a chat message; Type "pong" is a liveness ack;
// anything else is tolerated and ignored.
type InboundFrame struct {
	Type string `json:"type"`
	Message
}

// ParseInbound decodes a raw server frame. The boolean is false for
// frames that are neither a message nor a pong.
func ParseInbound(data []byte) (InboundFrame, bool, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, false, err
	}
	if f.Content == "" && f.Type != FrameTypePong {
		return f, false, nil
	}
	return f, true, nil
}

// IsMessage reports whether the frame carries chat content.
func (f InboundFrame) IsMessage() bool {
	return f.Content != ""
}

// IsPong reports whether the frame is a liveness acknowledgement.
func (f InboundFrame) IsPong() bool {
	return f.Type == FrameTypePong
}
