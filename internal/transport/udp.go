package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dedimark/source-query-proxy/internal/protocol"
)

// ErrTimeout reports that no datagram arrived within the receive deadline.
var ErrTimeout = errors.New("receive timed out")

// DefaultBufferSize is used when no read buffer size is configured.
const DefaultBufferSize = 4096

// Link is a scoped UDP endpoint: either a listening socket serving many
// peers or a connected socket to the backend. The owner must Close it.
type Link struct {
	conn    *net.UDPConn
	bufSize int
}

// Bind opens a listening link on addr ("host:port").
func Bind(addr string, bufSize int) (*Link, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return newLink(conn, bufSize), nil
}

// Connect opens a connected link to the backend at addr ("host:port").
func Connect(addr string, bufSize int) (*Link, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return newLink(conn, bufSize), nil
}

func newLink(conn *net.UDPConn, bufSize int) *Link {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Link{conn: conn, bufSize: bufSize}
}

// Close releases the underlying socket. Any blocked RecvPacket fails.
func (l *Link) Close() error {
	return l.conn.Close()
}

// LocalAddr returns the bound local address (useful for port 0 binds).
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// SendPacket writes one datagram on a connected link.
func (l *Link) SendPacket(data []byte) error {
	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}
	return nil
}

// SendPacketTo writes one datagram to addr on a listening link.
func (l *Link) SendPacketTo(data []byte, addr *net.UDPAddr) error {
	if _, err := l.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("failed to send packet to %s: %w", addr, err)
	}
	return nil
}

// RecvPacket reads the next datagram and decodes it. A zero timeout waits
// forever. Exceeding the deadline fails with ErrTimeout; a datagram the
// codec cannot frame fails with protocol.ErrMalformed while still
// returning the raw bytes and sender for logging.
func (l *Link) RecvPacket(timeout time.Duration) (protocol.Message, []byte, *net.UDPAddr, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, l.bufSize)
	n, addr, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, nil, nil, fmt.Errorf("failed to read packet: %w", err)
	}

	// Copy out of the read buffer; the raw bytes outlive this call (they
	// are what the refresh loops cache).
	data := make([]byte, n)
	copy(data, buf[:n])

	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, data, addr, err
	}
	return msg, data, addr, nil
}
