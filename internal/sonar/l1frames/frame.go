package l1frames

// Metadata is the fixed tuple the firmware sends ahead of the samples. The
// fields are kept even when a deployment ignores them so the wire format
// stays intact.
type Metadata struct {
	DepthIndex         uint16 // Firmware's own peak index estimate
	TemperatureScaled  int16  // Degrees Celsius × 100
	DriveVoltageScaled uint16 // Transducer drive voltage × 100
}

// TemperatureC returns the board temperature in degrees Celsius.
func (m Metadata) TemperatureC() float64 {
	return float64(m.TemperatureScaled) / 100.0
}

// DriveVoltageV returns the transducer drive voltage in volts.
func (m Metadata) DriveVoltageV() float64 {
	return float64(m.DriveVoltageScaled) / 100.0
}

// FirmwareDepthCm converts the device-side depth index to centimetres.
func (m Metadata) FirmwareDepthCm(cmPerSample float64) float64 {
	return float64(m.DepthIndex) * cmPerSample
}

// Frame is one validated measurement sweep. A Frame is only produced after
// its checksum has been verified. Callers must treat Samples as read-only.
type Frame struct {
	Metadata Metadata
	Samples  []uint16
}
