package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"I2C_DRIVER", "I2C_ADDR", "POLL_INTERVAL", "ALS_POLLING", "PS_POLLING", "SSL", "HTTP_PORT", "CALIBRATION_STORE"} {
		t.Setenv(key, "")
	}
	c := Load()
	assert.Equal(t, "periph", c.I2CDriver)
	assert.Equal(t, uint16(0x49), c.I2CAddr)
	assert.Equal(t, 200*time.Millisecond, c.PollInterval)
	assert.True(t, c.ALSPolling)
	assert.False(t, c.PSPolling)
	assert.Equal(t, "sqlite", c.CalibrationStore)
	assert.Equal(t, "80", c.Port())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("I2C_DRIVER", "DEVFS")
	t.Setenv("I2C_ADDR", "0x4a")
	t.Setenv("POLL_INTERVAL", "1s")
	t.Setenv("PS_POLLING", "true")
	t.Setenv("SSL", "true")
	t.Setenv("HTTP_PORT", "")
	c := Load()
	assert.Equal(t, "devfs", c.I2CDriver)
	assert.Equal(t, uint16(0x4a), c.I2CAddr)
	assert.Equal(t, time.Second, c.PollInterval)
	assert.True(t, c.PSPolling)
	assert.Equal(t, "443", c.Port())

	t.Setenv("HTTP_PORT", "8080")
	assert.Equal(t, "8080", Load().Port())
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("I2C_ADDR", "0x10000")
	t.Setenv("POLL_INTERVAL", "-5ms")
	t.Setenv("ALS_POLLING", "sometimes")
	c := Load()
	assert.Equal(t, uint16(0x49), c.I2CAddr)
	assert.Equal(t, 200*time.Millisecond, c.PollInterval)
	assert.True(t, c.ALSPolling)
}
