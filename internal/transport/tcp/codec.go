package tcp

import (
	"encoding/gob"
	"net"
)

// A TCP connection wrapper that stores an encoder and decoder for the connection.
type connCodec struct {
	conn    net.Conn
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// Constructs and returns a new [connCodec] instance from a given [net.Conn] instance.
func newConnCodec(conn net.Conn) connCodec {
	return connCodec{
		conn:    conn,
		encoder: gob.NewEncoder(conn),
		decoder: gob.NewDecoder(conn),
	}
}

func (c connCodec) Close() {
	c.conn.Close()
}

// Returns the next message received from the connection. Blocks until a message is received.
func (c connCodec) Receive() (message, error) {
	var msg message
	err := c.decoder.Decode(&msg)
	if err != nil {
		return message{}, err
	}
	return msg, nil
}

// Sends a message through the connection.
func (c connCodec) SendMessage(msg message) error {
	return c.encoder.Encode(msg)
}
