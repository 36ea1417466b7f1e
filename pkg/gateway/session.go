package gateway

import (
	"net"
	"time"
)

// Session tracks a single client connection.
type Session struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`

	conn net.Conn
}
