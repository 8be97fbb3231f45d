package epl8802

import "fmt"

const (
	EPL8802_ADDR uint16 = 0x49 ///< Default I2C address

	EPL8802_RETRY_COUNT   = 5  ///< Attempts per register transaction
	EPL8802_MAX_READ      = 8  ///< Largest single data read the bus accepts
	EPL8802_MAX_WRITE     = 7  ///< Largest payload behind the address byte
	EPL8802_MAX_COUNT     = 0xFFFF
	EPL8802_POLLING_TIME  = 200 ///< Report rate for polling mode, milliseconds
	EPL8802_SETTLE_MARGIN = 5   ///< Added to every computed sensing time, milliseconds
)

// EPL8802 Register map
const (
	EPL8802_REGISTER_MODE        byte = 0x00 // Wait time | operating mode
	EPL8802_REGISTER_ALS_INTT    byte = 0x01 // ALS integration time | gain
	EPL8802_REGISTER_ALS_ADC     byte = 0x02 // ALS adc resolution | cycle
	EPL8802_REGISTER_PS_INTT     byte = 0x03 // PS integration time | gain
	EPL8802_REGISTER_PS_ADC      byte = 0x04 // PS adc resolution | cycle
	EPL8802_REGISTER_PS_IR       byte = 0x05 // IR on control | IR mode | IR drive
	EPL8802_REGISTER_PS_INT      byte = 0x06 // Interrupt control | PS persist | PS interrupt type
	EPL8802_REGISTER_ALS_INT     byte = 0x07 // ALS channel select | ALS persist | ALS interrupt type
	EPL8802_REGISTER_ALS_THD     byte = 0x08 // ALS low threshold LE16, high threshold LE16
	EPL8802_REGISTER_PS_THD      byte = 0x0C // PS low threshold LE16, high threshold LE16
	EPL8802_REGISTER_PS_THD_HIGH byte = 0x0E // PS high threshold LE16
	EPL8802_REGISTER_POWER       byte = 0x11 // Power | reset
	EPL8802_REGISTER_ALS_STATUS  byte = 0x12 // ALS status, then channel 0 and channel 1 LE16
	EPL8802_REGISTER_PS_STATUS   byte = 0x1B // PS status, then IR data and PS data LE16
	EPL8802_REGISTER_REVNO       byte = 0x20 // Revision number LE16
	EPL8802_REGISTER_PS_CANCEL_L byte = 0x22 // Crosstalk cancellation low byte
	EPL8802_REGISTER_PS_CANCEL_H byte = 0x23 // Crosstalk cancellation high byte
	EPL8802_REGISTER_GAIN_CTRL   byte = 0xFC // Analog front end control
	EPL8802_REGISTER_REFRESH_A   byte = 0xFD // Chip refresh key
	EPL8802_REGISTER_REFRESH_B   byte = 0xFE // Chip refresh data
)

// Chip refresh sequence and analog front end setting written at bring-up
const (
	EPL8802_REFRESH_KEY      byte = 0x8E
	EPL8802_REFRESH_STEP_1   byte = 0x22
	EPL8802_REFRESH_STEP_2   byte = 0x02
	EPL8802_REFRESH_DONE     byte = 0x00
	EPL8802_GAIN_CTRL_NORMAL byte = 0x8C // A/D on, normal mode, GFIN and VOS enabled, DOC on
)

// Operating modes, register 0x00 bits 0-1
const (
	EPL8802_MODE_IDLE   byte = 0x00
	EPL8802_MODE_ALS    byte = 0x01
	EPL8802_MODE_PS     byte = 0x02
	EPL8802_MODE_ALS_PS byte = 0x03
)

// Register 0x11
const (
	EPL8802_POWER_ON     byte = 0x00
	EPL8802_POWER_OFF    byte = 0x02
	EPL8802_RESETN_RESET byte = 0x00
	EPL8802_RESETN_RUN   byte = 0x01
)

// Compare/lock control, low bits of registers 0x12 and 0x1B
const (
	EPL8802_CMP_RESET byte = 0x00
	EPL8802_CMP_RUN   byte = 0x02
	EPL8802_UN_LOCK   byte = 0x00
	EPL8802_LOCK      byte = 0x01
)

// Status byte bits, registers 0x12 and 0x1B
const (
	EPL8802_STATUS_SATURATION byte = 0x20
	EPL8802_STATUS_CMP_HIGH   byte = 0x10
	EPL8802_STATUS_CMP_LOW    byte = 0x08
	EPL8802_STATUS_INT_FLAG   byte = 0x04
	EPL8802_STATUS_CMP_RUN    byte = 0x02
	EPL8802_STATUS_LOCK       byte = 0x01
)

// Interrupt control, register 0x06 bits 4-5
const (
	EPL8802_INT_CTRL_ALS_OR_PS  byte = 0x00
	EPL8802_INT_CTRL_ALS        byte = 0x10
	EPL8802_INT_CTRL_PS         byte = 0x20
	EPL8802_INT_CTRL_ALS_AND_PS byte = 0x30
)

// Interrupt trigger type, bits 0-1 of registers 0x06 and 0x07
const (
	EPL8802_INTTY_DISABLE byte = 0x00
	EPL8802_INTTY_BINARY  byte = 0x01
	EPL8802_INTTY_ACTIVE  byte = 0x02
	EPL8802_INTTY_FRAME   byte = 0x03
)

// ALS interrupt channel select, register 0x07 bit 4
const (
	EPL8802_ALS_INT_CHSEL_0 byte = 0x00
	EPL8802_ALS_INT_CHSEL_1 byte = 0x10
)

// IR control, register 0x05
const (
	EPL8802_IR_ON_CTRL_OFF  byte = 0x00
	EPL8802_IR_ON_CTRL_ON   byte = 0x20
	EPL8802_IR_MODE_CURRENT byte = 0x00
	EPL8802_IR_MODE_VOLTAGE byte = 0x10
	EPL8802_IR_DRIVE_100    byte = 0x00
	EPL8802_IR_DRIVE_50     byte = 0x01
	EPL8802_IR_DRIVE_25     byte = 0x02
	EPL8802_IR_DRIVE_10     byte = 0x03
)

// Front end gain, bits 0-1 of registers 0x01 and 0x03
const (
	EPL8802_GAIN_HIGH byte = 0x00
	EPL8802_GAIN_MID  byte = 0x01
	EPL8802_GAIN_LOW  byte = 0x03
)

// Integration time indices, shifted into bits 2-5
const (
	EPL8802_ALS_INTT_1024 byte = 13
	EPL8802_PS_INTT_272   byte = 8
)

// ADC resolution indices, shifted into bits 3-4
const (
	EPL8802_PSALS_ADC_11 byte = 0
	EPL8802_PSALS_ADC_12 byte = 1
	EPL8802_PSALS_ADC_13 byte = 2
	EPL8802_PSALS_ADC_14 byte = 3
)

// Cycle counts, bits 0-2
const (
	EPL8802_CYCLE_1   byte = 0
	EPL8802_CYCLE_2   byte = 1
	EPL8802_CYCLE_4   byte = 2
	EPL8802_CYCLE_8   byte = 3
	EPL8802_CYCLE_16  byte = 4
	EPL8802_CYCLE_32  byte = 5
	EPL8802_CYCLE_64  byte = 6
	EPL8802_CYCLE_128 byte = 7
)

// Persist counts, bits 2-3 of registers 0x06 and 0x07
const (
	EPL8802_PERSIST_1  byte = 0
	EPL8802_PERSIST_4  byte = 1
	EPL8802_PERSIST_8  byte = 2
	EPL8802_PERSIST_16 byte = 3
)

// Integration time in microseconds, indexed by the 4 bit register field.
var alsIntegrationTime = [16]int{1, 2, 4, 8, 16, 32, 64, 128, 256, 384, 512, 640, 768, 1024, 2048, 4096}
var psIntegrationTime = [16]int{4, 8, 16, 24, 32, 48, 80, 144, 272, 400, 528, 784, 1040, 2064, 4112, 8208}

// ADC conversion weight per resolution index, used in the sensing time formula.
var adcValue = [4]int{128, 256, 512, 1024}
var cycleValue = [8]int{1, 2, 4, 8, 16, 32, 64, 128}

// gainMultiplier maps the gain field to its amplification factor.
func gainMultiplier(gain byte) int {
	switch gain {
	case EPL8802_GAIN_HIGH:
		return 64
	case EPL8802_GAIN_MID:
		return 8
	default:
		return 1
	}
}

func IntegrationTimeToString(ch Channel, intt byte) string {
	if intt > 15 {
		return "Unknown"
	}
	if ch == Proximity {
		return fmt.Sprintf("%dus", psIntegrationTime[intt])
	}
	return fmt.Sprintf("%dus", alsIntegrationTime[intt])
}

func GainToString(value byte) string {
	switch value {
	case EPL8802_GAIN_HIGH:
		return "High gain (64x)"
	case EPL8802_GAIN_MID:
		return "Mid gain (8x)"
	case EPL8802_GAIN_LOW:
		return "Low gain (1x)"
	default:
		return "Unknown"
	}
}

func ModeToString(mode byte) string {
	switch mode {
	case EPL8802_MODE_IDLE:
		return "idle"
	case EPL8802_MODE_ALS:
		return "als"
	case EPL8802_MODE_PS:
		return "ps"
	case EPL8802_MODE_ALS_PS:
		return "als+ps"
	default:
		return "Unknown"
	}
}

// alsSensingTime returns the frame time of one ALS measurement in milliseconds.
func alsSensingTime(intt, adc, cycle byte) int {
	us := (alsIntegrationTime[intt&0x0f] + adcValue[adc&0x03]*2*2) * 2 * cycleValue[cycle&0x07]
	return us/1000 + EPL8802_SETTLE_MARGIN
}

// psSensingTime returns the frame time of one PS measurement in milliseconds.
func psSensingTime(intt, adc, cycle byte) int {
	us := (psIntegrationTime[intt&0x0f]*3 + adcValue[adc&0x03]*2*3) * cycleValue[cycle&0x07]
	return us/1000 + EPL8802_SETTLE_MARGIN
}
