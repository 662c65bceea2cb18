// Package hub fans dashboard updates out to websocket clients.
//
// One goroutine owns the client set; clients that fall behind are
// dropped rather than allowed to stall the broadcaster.
package hub

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data, annotated JPEG frames here
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
