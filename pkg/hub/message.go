// Package hub fans kiosk status updates out to dashboard sockets
// using a channel-based broadcast loop.
package hub

import "github.com/teslashibe/voice-waiter/pkg/protocol"

// Message is one pre-encoded frame queued for every client.
type Message struct {
	Type protocol.MessageType
	Data []byte
}

// Encode wraps a protocol message for broadcast.
func Encode(msg *protocol.Message) (Message, error) {
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msg.Type, Data: data}, nil
}
