package epl8802

// CalibrationStore persists calibration values outside the engine. A load
// that finds nothing returns ok == false and a nil error; an unreadable or
// malformed record returns an error.
type CalibrationStore interface {
	LoadProximityCalibration() (cal ProximityCalibration, ok bool, err error)
	SaveProximityCalibration(cal ProximityCalibration) error
	// LoadLightScaleFactor returns milli-lux per count.
	LoadLightScaleFactor() (countsPerLux int, ok bool, err error)
}

// NopCalibrationStore never has a calibration and discards saves.
type NopCalibrationStore struct{}

func (NopCalibrationStore) LoadProximityCalibration() (ProximityCalibration, bool, error) {
	return ProximityCalibration{}, false, nil
}

func (NopCalibrationStore) SaveProximityCalibration(ProximityCalibration) error { return nil }

func (NopCalibrationStore) LoadLightScaleFactor() (int, bool, error) { return 0, false, nil }
