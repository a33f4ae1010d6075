package actuator

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialTransport speaks the protocol over the control box's wired
// maintenance console, one command or response per line. Useful on the bench
// when the lift's network is down.
type SerialTransport struct {
	port *serial.Port
	buf  bytes.Buffer
}

func DialSerial(port string, baud int) (*SerialTransport, error) {
	if baud == 0 {
		baud = 115200
	}
	c := &serial.Config{Name: port, Baud: baud, ReadTimeout: time.Millisecond}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", port)
	}
	return &SerialTransport{port: p}, nil
}

func (t *SerialTransport) Send(cmd string) error {
	_, err := t.port.Write([]byte(cmd + "\n"))
	return err
}

func (t *SerialTransport) Recv() (string, bool, error) {
	// Pull whatever is buffered on the port; ReadTimeout makes this
	// effectively non-blocking.
	var chunk [256]byte
	for {
		n, err := t.port.Read(chunk[:])
		if n > 0 {
			t.buf.Write(chunk[:n])
			continue
		}
		if err != nil && err != io.EOF {
			return "", false, err
		}
		break
	}
	line, err := t.buf.ReadString('\n')
	if err != nil {
		// Incomplete line: keep it for the next drain.
		t.buf.WriteString(line)
		return "", false, nil
	}
	return line, true, nil
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}
