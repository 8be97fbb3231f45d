package epl8802

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigurationBlock(t *testing.T) {
	c := DefaultConfiguration()
	require.NoError(t, c.Validate())
	assert.Equal(t, []byte{0x00, 0x37, 0x04, 0x23, 0x04, 0x20, 0x22, 0x10}, c.Block())
}

func TestConfigurationDerive(t *testing.T) {
	tests := []struct {
		lightOn, proxOn     bool
		lightPoll, proxPoll bool
		mode, intCtrl       byte
		lightType, proxType byte
	}{
		{false, false, true, true, EPL8802_MODE_IDLE, EPL8802_INT_CTRL_ALS_OR_PS, EPL8802_INTTY_DISABLE, EPL8802_INTTY_DISABLE},
		{true, false, true, false, EPL8802_MODE_ALS, EPL8802_INT_CTRL_PS, EPL8802_INTTY_DISABLE, EPL8802_INTTY_ACTIVE},
		{false, true, false, true, EPL8802_MODE_PS, EPL8802_INT_CTRL_ALS, EPL8802_INTTY_ACTIVE, EPL8802_INTTY_DISABLE},
		{true, true, false, false, EPL8802_MODE_ALS_PS, EPL8802_INT_CTRL_ALS_OR_PS, EPL8802_INTTY_ACTIVE, EPL8802_INTTY_ACTIVE},
	}
	for _, test := range tests {
		c := DefaultConfiguration()
		c.Light.Enabled, c.Proximity.Enabled = test.lightOn, test.proxOn
		c.Light.Polling, c.Proximity.Polling = test.lightPoll, test.proxPoll
		c.derive()
		assert.Equal(t, test.mode, c.Mode)
		assert.Equal(t, test.intCtrl, c.InterruptControl)
		assert.Equal(t, test.lightType, c.Light.InterruptType)
		assert.Equal(t, test.proxType, c.Proximity.InterruptType)
	}
}

func TestConfigurationRoundTrip(t *testing.T) {
	for _, lightOn := range []bool{false, true} {
		for _, proxOn := range []bool{false, true} {
			for _, lightPoll := range []bool{false, true} {
				for _, proxPoll := range []bool{false, true} {
					c := DefaultConfiguration()
					c.Light.Enabled, c.Proximity.Enabled = lightOn, proxOn
					c.Light.Polling, c.Proximity.Polling = lightPoll, proxPoll
					c.Wait = 7
					c.Light.Gain = EPL8802_GAIN_MID
					c.Light.ADC = EPL8802_PSALS_ADC_13
					c.Proximity.Cycle = EPL8802_CYCLE_128
					c.Proximity.Persist = EPL8802_PERSIST_16
					c.IRMode = EPL8802_IR_MODE_VOLTAGE
					c.IRDrive = EPL8802_IR_DRIVE_25
					c.Cancellation = 0x1A2B
					c.derive()
					require.NoError(t, c.Validate())

					got, err := DecodeConfiguration(c.Block(), putLE16(c.Cancellation))
					require.NoError(t, err)
					assert.Equal(t, c, got, "light %v/%v prox %v/%v", lightOn, lightPoll, proxOn, proxPoll)
				}
			}
		}
	}
}

func TestDecodeConfigurationShort(t *testing.T) {
	_, err := DecodeConfiguration(make([]byte, 7), make([]byte, 2))
	require.Error(t, err)
	_, err = DecodeConfiguration(make([]byte, 8), make([]byte, 1))
	require.Error(t, err)
}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"integration time", func(c *Configuration) { c.Light.IntegrationTime = 16 }},
		{"gain", func(c *Configuration) { c.Proximity.Gain = 2 }},
		{"adc", func(c *Configuration) { c.Light.ADC = 4 }},
		{"cycle", func(c *Configuration) { c.Proximity.Cycle = 8 }},
		{"persist", func(c *Configuration) { c.Light.Persist = 4 }},
		{"wait", func(c *Configuration) { c.Wait = 16 }},
		{"ir drive", func(c *Configuration) { c.IRDrive = 4 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfiguration()
			test.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]Channel{"als": Light, "light": Light, "ps": Proximity, "proximity": Proximity} {
		got, err := ParseChannel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseChannel("uv")
	require.Error(t, err)
}
