package actuator

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// UDPTransport speaks the protocol over UDP datagrams, the lift control
// box's native transport.
type UDPTransport struct {
	conn *net.UDPConn
	buf  [1024]byte
}

// DialUDP connects to the control box at addr ("host:port").
func DialUDP(addr string) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %q", addr)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %q", addr)
	}
	return &UDPTransport{conn: conn}, nil
}

func (t *UDPTransport) Send(cmd string) error {
	_, err := t.conn.Write([]byte(cmd))
	return err
}

func (t *UDPTransport) Recv() (string, bool, error) {
	if err := t.conn.SetReadDeadline(time.Now()); err != nil {
		return "", false, err
	}
	n, err := t.conn.Read(t.buf[:])
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return "", false, nil
		}
		return "", false, err
	}
	return string(t.buf[:n]), true, nil
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
