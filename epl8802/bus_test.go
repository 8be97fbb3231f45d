package epl8802

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

const addr = EPL8802_ADDR

func newPlaybackBus(ops []i2ctest.IO) (*Bus, *i2ctest.Playback) {
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	b := NewBus(&i2c.Dev{Bus: pb, Addr: addr})
	b.sleep = func(time.Duration) {}
	return b, pb
}

func TestBusWrite(t *testing.T) {
	b, pb := newPlaybackBus([]i2ctest.IO{
		{Addr: addr, W: []byte{EPL8802_REGISTER_PS_THD, 0xd6, 0x10, 0xc6, 0x11}},
	})
	require.NoError(t, b.Write(EPL8802_REGISTER_PS_THD, ThresholdPair{Low: 4310, High: 4550}.bytes()...))
	require.NoError(t, pb.Close())
}

func TestBusWriteTooLong(t *testing.T) {
	b, pb := newPlaybackBus(nil)
	err := b.Write(EPL8802_REGISTER_MODE, make([]byte, EPL8802_MAX_WRITE+1)...)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBusFault))
	require.NoError(t, pb.Close())
}

func TestBusReadChunked(t *testing.T) {
	first := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	second := []byte{8, 9}
	b, pb := newPlaybackBus([]i2ctest.IO{
		{Addr: addr, W: []byte{0x00}},
		{Addr: addr, R: first},
		{Addr: addr, W: []byte{0x08}},
		{Addr: addr, R: second},
	})
	got, err := b.Read(EPL8802_REGISTER_MODE, 10)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, first...), second...), got)
	require.NoError(t, pb.Close())
}

func TestBusReadSingleChunk(t *testing.T) {
	b, pb := newPlaybackBus([]i2ctest.IO{
		{Addr: addr, W: []byte{EPL8802_REGISTER_REVNO}},
		{Addr: addr, R: []byte{0x88, 0x02}},
	})
	got, err := b.Read(EPL8802_REGISTER_REVNO, 2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0288), le16(got))
	require.NoError(t, pb.Close())
}

func TestBusReadZero(t *testing.T) {
	b, _ := newPlaybackBus(nil)
	_, err := b.Read(EPL8802_REGISTER_MODE, 0)
	require.Error(t, err)
}

type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) Tx(w, r []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("nack")
	}
	return nil
}

func TestBusRetryExhausted(t *testing.T) {
	tr := &flakyTransport{failures: 100}
	b := NewBus(tr)
	var sleeps []time.Duration
	b.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	err := b.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_ON|EPL8802_RESETN_RUN)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusFault))
	var fault *BusFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, EPL8802_REGISTER_POWER, fault.Register)
	assert.Equal(t, EPL8802_RETRY_COUNT, fault.Attempts)
	assert.Equal(t, EPL8802_RETRY_COUNT, tr.calls)
	assert.Len(t, sleeps, EPL8802_RETRY_COUNT-1)
	for _, s := range sleeps {
		assert.Equal(t, 10*time.Millisecond, s)
	}
}

func TestBusRetryRecovers(t *testing.T) {
	tr := &flakyTransport{failures: 2}
	b := NewBus(tr)
	b.sleep = func(time.Duration) {}
	_, err := b.Read(EPL8802_REGISTER_PS_STATUS, 5)
	require.NoError(t, err)
	// two failed selects, one good select, one read
	assert.Equal(t, 4, tr.calls)
}

func TestBusDoReleasesLockOnError(t *testing.T) {
	tr := &flakyTransport{failures: 100}
	b := NewBus(tr)
	b.sleep = func(time.Duration) {}
	err := b.Do(func(r Registers) error {
		return r.Write(EPL8802_REGISTER_MODE, 0)
	})
	require.Error(t, err)

	tr.failures = 0
	require.NoError(t, b.Write(EPL8802_REGISTER_MODE, 0))
}
