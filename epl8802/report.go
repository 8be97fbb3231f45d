package epl8802

import "time"

// LightSample is one read of the ALS status and data registers.
type LightSample struct {
	Status   byte
	Channel0 uint16
	Channel1 uint16
}

func (s LightSample) Saturated() bool        { return s.Status&EPL8802_STATUS_SATURATION != 0 }
func (s LightSample) CompareHigh() bool      { return s.Status&EPL8802_STATUS_CMP_HIGH != 0 }
func (s LightSample) CompareLow() bool       { return s.Status&EPL8802_STATUS_CMP_LOW != 0 }
func (s LightSample) InterruptPending() bool { return s.Status&EPL8802_STATUS_INT_FLAG != 0 }

// ProximitySample is one read of the PS status and data registers.
type ProximitySample struct {
	Status byte
	IR     uint16
	Data   uint16
}

func (s ProximitySample) Saturated() bool        { return s.Status&EPL8802_STATUS_SATURATION != 0 }
func (s ProximitySample) CompareHigh() bool      { return s.Status&EPL8802_STATUS_CMP_HIGH != 0 }
func (s ProximitySample) CompareLow() bool       { return s.Status&EPL8802_STATUS_CMP_LOW != 0 }
func (s ProximitySample) InterruptPending() bool { return s.Status&EPL8802_STATUS_INT_FLAG != 0 }

func decodeLightSample(b []byte) LightSample {
	return LightSample{Status: b[0], Channel0: le16(b[1:3]), Channel1: le16(b[3:5])}
}

func decodeProximitySample(b []byte) ProximitySample {
	return ProximitySample{Status: b[0], IR: le16(b[1:3]), Data: le16(b[3:5])}
}

// Reading is one report emitted by the engine. Value is lux or a level for
// the light channel and the zone code for proximity; Unavailable when the
// channel is disabled or its sample could not be read.
type Reading struct {
	Channel    Channel    `json:"channel"`
	Value      int        `json:"value"`
	Raw        uint16     `json:"raw"`
	Zone       Zone       `json:"zone,omitempty"`
	ReportType ReportType `json:"report_type"`
	Timestamp  time.Time  `json:"timestamp"`
}

// emit publishes a reading without blocking the sampling path. Readings are
// dropped when nobody drains the channel.
func (d *EPL8802) emit(r Reading) {
	if r.Timestamp.IsZero() {
		r.Timestamp = d.now()
	}
	d.lastReading[r.Channel] = r
	select {
	case d.readings <- r:
	default:
		l.WithField("channel", r.Channel).Debug("readings channel full, dropping report")
	}
}

// Readings returns the channel reports are published on.
func (d *EPL8802) Readings() <-chan Reading {
	return d.readings
}

// LastReading returns the most recent report of a channel.
func (d *EPL8802) LastReading(ch Channel) Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.lastReading[ch]
	if !ok {
		return Reading{Channel: ch, Value: Unavailable, Timestamp: d.now()}
	}
	return r
}
