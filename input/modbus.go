package input

import (
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
)

// ModbusBank reads inputs from a modbus digital-input module. Pin numbers map
// directly to discrete input addresses.
type ModbusBank struct {
	// Port and BaudRate open a local RTU connection.
	Port string
	// BaudRate defaults to 19200.
	BaudRate int
	SlaveID  byte
	// Address opens a remote TCP connection instead.
	Address string

	mu      sync.Mutex
	handler modbusHandler
	client  modbus.Client
}

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Connect opens the modbus connection. The bank stays usable after transient
// read errors; callers decide whether a failed read is fatal.
func (b *ModbusBank) Connect() error {
	if b.Address != "" {
		handler := modbus.NewTCPClientHandler(b.Address)
		handler.Timeout = 1 * time.Second
		handler.SlaveId = b.SlaveID
		b.handler = handler
	} else {
		handler := modbus.NewRTUClientHandler(b.Port)
		baud := b.BaudRate
		if baud == 0 {
			baud = 19200
		}
		handler.BaudRate = baud
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = 1 * time.Second
		handler.SlaveId = b.SlaveID
		b.handler = handler
	}
	if err := b.handler.Connect(); err != nil {
		return errors.Wrap(err, "connecting modbus input bank")
	}
	b.client = modbus.NewClient(b.handler)
	return nil
}

func (b *ModbusBank) Close() error {
	if b.handler == nil {
		return nil
	}
	return b.handler.Close()
}

func (b *ModbusBank) Read(pin int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return false, errors.New("modbus input bank not connected")
	}
	results, err := b.client.ReadDiscreteInputs(uint16(pin), 1)
	if err != nil {
		return false, errors.Wrapf(err, "reading discrete input %d", pin)
	}
	bits := BytesToBits(results)
	if len(bits) == 0 {
		return false, errors.Errorf("empty response for discrete input %d", pin)
	}
	return bits[0], nil
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
