package epl8802

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport is one addressed device on a bus. periph's *i2c.Dev satisfies it.
type Transport interface {
	Tx(w, r []byte) error
}

// Registers is the narrow register primitive every other part of the driver
// goes through.
type Registers interface {
	Write(reg byte, data ...byte) error
	Read(reg byte, count int) ([]byte, error)
}

// Bus serializes all register access to one device and retries failed
// transfers a bounded number of times.
type Bus struct {
	t          Transport
	mu         sync.Mutex
	retries    int
	retryDelay time.Duration
	maxRead    int
	sleep      func(time.Duration)
}

// NewBus wraps a transport with the default retry policy: 5 attempts, 10ms apart.
func NewBus(t Transport) *Bus {
	return &Bus{
		t:          t,
		retries:    EPL8802_RETRY_COUNT,
		retryDelay: 10 * time.Millisecond,
		maxRead:    EPL8802_MAX_READ,
		sleep:      time.Sleep,
	}
}

// Write stores data starting at reg in one bus transaction.
func (b *Bus) Write(reg byte, data ...byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(reg, data)
}

// Read returns count bytes starting at reg. Reads longer than the bus limit
// are split into address-select/read pairs.
func (b *Bus) Read(reg byte, count int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(reg, count)
}

// Do runs fn with the bus held, so a register sequence cannot interleave with
// another goroutine. fn must only use the Registers it is given.
func (b *Bus) Do(fn func(r Registers) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(heldBus{b})
}

type heldBus struct{ b *Bus }

func (h heldBus) Write(reg byte, data ...byte) error { return h.b.write(reg, data) }

func (h heldBus) Read(reg byte, count int) ([]byte, error) { return h.b.read(reg, count) }

func (b *Bus) write(reg byte, data []byte) error {
	// The address occupies the first byte of the transfer.
	if len(data) > EPL8802_MAX_WRITE {
		return fmt.Errorf("epl8802: write of %d bytes to reg 0x%02x exceeds %d", len(data), reg, EPL8802_MAX_WRITE)
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, reg)
	buf = append(buf, data...)
	return b.retry("write", reg, func() error {
		return b.t.Tx(buf, nil)
	})
}

func (b *Bus) read(reg byte, count int) ([]byte, error) {
	if count <= 0 {
		return nil, errors.New("epl8802: read count must be positive")
	}
	out := make([]byte, count)
	for off := 0; off < count; {
		n := count - off
		if n > b.maxRead {
			n = b.maxRead
		}
		addr := reg + byte(off)
		if err := b.retry("select", addr, func() error {
			return b.t.Tx([]byte{addr}, nil)
		}); err != nil {
			return nil, err
		}
		chunk := out[off : off+n]
		if err := b.retry("read", addr, func() error {
			return b.t.Tx(nil, chunk)
		}); err != nil {
			return nil, err
		}
		off += n
	}
	return out, nil
}

func (b *Bus) retry(op string, reg byte, fn func() error) error {
	var err error
	for attempt := 1; attempt <= b.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		l.WithFields(logrus.Fields{"op": op, "reg": fmt.Sprintf("0x%02x", reg), "attempt": attempt}).Errorf("i2c transfer failed: %v", err)
		if attempt < b.retries {
			b.sleep(b.retryDelay)
		}
	}
	return &BusFault{Op: op, Register: reg, Attempts: b.retries, Err: err}
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putLE16(v uint16) []byte {
	return []byte{byte(v & 0xff), byte(v >> 8)}
}
