package epl8802

import (
	"errors"
	"fmt"
)

var (
	// ErrBusFault is returned once a register transaction exhausted its retries.
	ErrBusFault = errors.New("epl8802: bus fault")
	// ErrCalibrationInvalid is returned when a crosstalk measurement or a stored
	// calibration cannot be used. Previous thresholds stay in effect.
	ErrCalibrationInvalid = errors.New("epl8802: calibration invalid")
	// ErrConfigurationDrift marks register contents that no longer match the
	// last written configuration.
	ErrConfigurationDrift = errors.New("epl8802: configuration drift")
	// ErrRangeExhausted marks a light sample clamped at the first or last range step.
	ErrRangeExhausted = errors.New("epl8802: range exhausted")
	// ErrChannelDisabled is returned by operations that need an enabled channel.
	ErrChannelDisabled = errors.New("epl8802: channel disabled")
	// ErrHalted is returned by every operation after Halt.
	ErrHalted = errors.New("epl8802: device halted")
)

// BusFault describes a failed register transaction.
type BusFault struct {
	Op       string
	Register byte
	Attempts int
	Err      error
}

func (e *BusFault) Error() string {
	return fmt.Sprintf("epl8802: %s reg 0x%02x failed after %d attempts: %v", e.Op, e.Register, e.Attempts, e.Err)
}

func (e *BusFault) Unwrap() error { return e.Err }

func (e *BusFault) Is(target error) bool { return target == ErrBusFault }

// CalibrationError describes a rejected calibration.
type CalibrationError struct {
	Reason   string
	Measured int
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("epl8802: calibration invalid: %s (measured %d)", e.Reason, e.Measured)
}

func (e *CalibrationError) Is(target error) bool { return target == ErrCalibrationInvalid }
