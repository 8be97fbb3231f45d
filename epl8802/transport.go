package epl8802

import (
	"fmt"
	"io"

	"golang.org/x/exp/io/i2c"
	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
)

// Connection is an opened transport plus whatever must be closed with it.
type Connection struct {
	Transport
	io.Closer
	Name string
}

// OpenPeriph opens a bus registered with periph (host.Init must have run) and
// addresses the sensor on it. An empty name selects the first bus.
func OpenPeriph(name string, addr uint16, speed physic.Frequency) (*Connection, error) {
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("Failed to open i2c bus %q: %w", name, err)
	}
	if speed > 0 {
		if err := bus.SetSpeed(speed); err != nil {
			l.Warnf("i2c bus %s refused speed %s: %v", bus, speed, err)
		}
	}
	dev := &pi2c.Dev{Bus: bus, Addr: addr}
	return &Connection{Transport: dev, Closer: bus, Name: dev.String()}, nil
}

// OpenDevfs opens the sensor through /dev/i2c-N directly.
func OpenDevfs(path string, addr uint16) (*Connection, error) {
	if path == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		path = "/dev/i2c-1"
	}
	device, err := i2c.Open(&i2c.Devfs{Dev: path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("Failed to open: %w", err)
	}
	return &Connection{Transport: devfsTransport{device}, Closer: device, Name: fmt.Sprintf("%s@0x%02x", path, addr)}, nil
}

type devfsTransport struct {
	d *i2c.Device
}

// Tx maps a write-then-read onto the character device. Either side may be empty.
func (t devfsTransport) Tx(w, r []byte) error {
	if len(w) > 0 {
		if err := t.d.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return t.d.Read(r)
	}
	return nil
}
