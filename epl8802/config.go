package epl8802

import "fmt"

// Channel selects the ambient light or the proximity half of the sensor.
type Channel int

const (
	Light Channel = iota
	Proximity
)

func (c Channel) String() string {
	switch c {
	case Light:
		return "als"
	case Proximity:
		return "ps"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

func (c Channel) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseChannel accepts the names used by the control surface.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "als", "light":
		return Light, nil
	case "ps", "proximity":
		return Proximity, nil
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// ChannelSettings holds the front end settings of one channel. Register
// fields hold the unshifted field value.
type ChannelSettings struct {
	Enabled         bool
	Polling         bool
	IntegrationTime byte
	Gain            byte
	ADC             byte
	Cycle           byte
	Persist         byte
	InterruptType   byte
}

// Configuration is the full intended device state. Mode, InterruptControl
// and the per-channel InterruptType are derived, see derive.
type Configuration struct {
	Light            ChannelSettings
	Proximity        ChannelSettings
	Wait             byte
	Mode             byte
	InterruptControl byte
	ALSChannelSelect byte
	IROnControl      byte
	IRMode           byte
	IRDrive          byte
	Cancellation     uint16
}

// DefaultConfiguration matches the power-on settings used by the reference board.
func DefaultConfiguration() Configuration {
	c := Configuration{
		Light: ChannelSettings{
			Polling:         true,
			IntegrationTime: EPL8802_ALS_INTT_1024,
			Gain:            EPL8802_GAIN_LOW,
			ADC:             EPL8802_PSALS_ADC_11,
			Cycle:           EPL8802_CYCLE_16,
			Persist:         EPL8802_PERSIST_1,
		},
		Proximity: ChannelSettings{
			Polling:         false,
			IntegrationTime: EPL8802_PS_INTT_272,
			Gain:            EPL8802_GAIN_LOW,
			ADC:             EPL8802_PSALS_ADC_11,
			Cycle:           EPL8802_CYCLE_16,
			Persist:         EPL8802_PERSIST_1,
		},
		ALSChannelSelect: EPL8802_ALS_INT_CHSEL_1,
		IROnControl:      EPL8802_IR_ON_CTRL_ON,
		IRMode:           EPL8802_IR_MODE_CURRENT,
		IRDrive:          EPL8802_IR_DRIVE_100,
	}
	c.derive()
	return c
}

func (c *Configuration) settings(ch Channel) *ChannelSettings {
	if ch == Proximity {
		return &c.Proximity
	}
	return &c.Light
}

// derive recomputes the mode and interrupt routing from the enable and
// polling flags. It must run after every flag change.
func (c *Configuration) derive() {
	switch {
	case c.Light.Enabled && c.Proximity.Enabled:
		c.Mode = EPL8802_MODE_ALS_PS
	case c.Light.Enabled:
		c.Mode = EPL8802_MODE_ALS
	case c.Proximity.Enabled:
		c.Mode = EPL8802_MODE_PS
	default:
		c.Mode = EPL8802_MODE_IDLE
	}

	switch {
	case !c.Proximity.Polling && !c.Light.Polling:
		c.InterruptControl = EPL8802_INT_CTRL_ALS_OR_PS
		c.Light.InterruptType = EPL8802_INTTY_ACTIVE
		c.Proximity.InterruptType = EPL8802_INTTY_ACTIVE
	case !c.Proximity.Polling && c.Light.Polling:
		c.InterruptControl = EPL8802_INT_CTRL_PS
		c.Light.InterruptType = EPL8802_INTTY_DISABLE
		c.Proximity.InterruptType = EPL8802_INTTY_ACTIVE
	case c.Proximity.Polling && !c.Light.Polling:
		c.InterruptControl = EPL8802_INT_CTRL_ALS
		c.Light.InterruptType = EPL8802_INTTY_ACTIVE
		c.Proximity.InterruptType = EPL8802_INTTY_DISABLE
	default:
		c.InterruptControl = EPL8802_INT_CTRL_ALS_OR_PS
		c.Light.InterruptType = EPL8802_INTTY_DISABLE
		c.Proximity.InterruptType = EPL8802_INTTY_DISABLE
	}
}

// Validate rejects field values that do not fit their register fields.
func (c *Configuration) Validate() error {
	for _, ch := range []Channel{Light, Proximity} {
		s := c.settings(ch)
		switch {
		case s.IntegrationTime > 15:
			return fmt.Errorf("%s integration time index %d out of range 0-15", ch, s.IntegrationTime)
		case s.Gain != EPL8802_GAIN_HIGH && s.Gain != EPL8802_GAIN_MID && s.Gain != EPL8802_GAIN_LOW:
			return fmt.Errorf("%s gain %d is not one of high/mid/low", ch, s.Gain)
		case s.ADC > 3:
			return fmt.Errorf("%s adc index %d out of range 0-3", ch, s.ADC)
		case s.Cycle > 7:
			return fmt.Errorf("%s cycle index %d out of range 0-7", ch, s.Cycle)
		case s.Persist > 3:
			return fmt.Errorf("%s persist index %d out of range 0-3", ch, s.Persist)
		}
	}
	if c.Wait > 15 {
		return fmt.Errorf("wait index %d out of range 0-15", c.Wait)
	}
	if c.IRDrive > 3 {
		return fmt.Errorf("ir drive %d out of range 0-3", c.IRDrive)
	}
	return nil
}

func (c *Configuration) modeByte() byte     { return c.Wait<<4 | c.Mode }
func (c *Configuration) alsInttByte() byte  { return c.Light.IntegrationTime<<2 | c.Light.Gain }
func (c *Configuration) alsAdcByte() byte   { return c.Light.ADC<<3 | c.Light.Cycle }
func (c *Configuration) psInttByte() byte   { return c.Proximity.IntegrationTime<<2 | c.Proximity.Gain }
func (c *Configuration) psAdcByte() byte    { return c.Proximity.ADC<<3 | c.Proximity.Cycle }
func (c *Configuration) psIRByte() byte     { return c.IROnControl | c.IRMode | c.IRDrive }
func (c *Configuration) psIntByte() byte {
	return c.InterruptControl | c.Proximity.Persist<<2 | c.Proximity.InterruptType
}
func (c *Configuration) alsIntByte() byte {
	return c.ALSChannelSelect | c.Light.Persist<<2 | c.Light.InterruptType
}

// Block returns the contents of registers 0x00 through 0x07.
func (c *Configuration) Block() []byte {
	return []byte{
		c.modeByte(),
		c.alsInttByte(),
		c.alsAdcByte(),
		c.psInttByte(),
		c.psAdcByte(),
		c.psIRByte(),
		c.psIntByte(),
		c.alsIntByte(),
	}
}

// DecodeConfiguration rebuilds a Configuration from registers 0x00-0x07 and
// the two cancellation registers. Polling is inferred from a disabled
// interrupt trigger.
func DecodeConfiguration(block []byte, cancel []byte) (Configuration, error) {
	if len(block) < 8 || len(cancel) < 2 {
		return Configuration{}, fmt.Errorf("short register image: %d/%d bytes", len(block), len(cancel))
	}
	c := Configuration{
		Wait:             block[0] >> 4,
		Mode:             block[0] & 0x03,
		InterruptControl: block[6] & 0x30,
		ALSChannelSelect: block[7] & 0x10,
		IROnControl:      block[5] & 0x20,
		IRMode:           block[5] & 0x10,
		IRDrive:          block[5] & 0x03,
		Cancellation:     le16(cancel),
	}
	c.Light = ChannelSettings{
		Enabled:         c.Mode&EPL8802_MODE_ALS != 0,
		IntegrationTime: (block[1] >> 2) & 0x0f,
		Gain:            block[1] & 0x03,
		ADC:             (block[2] >> 3) & 0x03,
		Cycle:           block[2] & 0x07,
		Persist:         (block[7] >> 2) & 0x03,
		InterruptType:   block[7] & 0x03,
	}
	c.Light.Polling = c.Light.InterruptType == EPL8802_INTTY_DISABLE
	c.Proximity = ChannelSettings{
		Enabled:         c.Mode&EPL8802_MODE_PS != 0,
		IntegrationTime: (block[3] >> 2) & 0x0f,
		Gain:            block[3] & 0x03,
		ADC:             (block[4] >> 3) & 0x03,
		Cycle:           block[4] & 0x07,
		Persist:         (block[6] >> 2) & 0x03,
		InterruptType:   block[6] & 0x03,
	}
	c.Proximity.Polling = c.Proximity.InterruptType == EPL8802_INTTY_DISABLE
	return c, nil
}
