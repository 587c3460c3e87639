// Package units provides shared constants and conversions for telemetry units
package units

// Unit constants
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

// Conversion factors between speed units. Samples store speed channels in
// mph; GPS parsing and the performance math work in m/s internally.
const (
	MPSToMPH   = 2.2369362920544
	MPHToMPS   = 0.44704
	MPSToKPH   = 3.6
	KPHToMPH   = 0.62137119223733
	KnotsToMPH = 1.150779448
)

// Physical constants used by the performance math.
const (
	Gravity        = 9.80665 // m/s^2 per g
	WattsPerHP     = 745.7   // mechanical horsepower
	FeetPerMeter   = 3.28084
	MetersPerMile  = 1609.344
	AirDensityKgM3 = 1.225 // sea level, 15 C
)

// QuarterMileMeters is the length of a standing quarter mile.
const QuarterMileMeters = 402.336

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kph"
}

// ConvertSpeed converts a speed from miles per hour to the target units.
// Samples store speed channels in mph.
func ConvertSpeed(speedMPH float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPH
	case MPS:
		return speedMPH * MPHToMPS
	case KPH:
		return speedMPH * MPHToMPS * MPSToKPH
	default:
		return speedMPH
	}
}

// CToF converts a temperature in degrees Celsius to Fahrenheit. OBD and
// one-wire probes report Celsius; samples store Fahrenheit.
func CToF(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

// Horsepower computes mechanical horsepower from a propulsive force in
// newtons applied at a speed in m/s.
func Horsepower(forceN, speedMPS float64) float64 {
	return forceN * speedMPS / WattsPerHP
}

// TorqueLbFt computes torque in lb-ft from horsepower at the given engine
// speed. Returns 0 when rpm is 0 to avoid dividing by zero.
func TorqueLbFt(hp, rpm float64) float64 {
	if rpm == 0 {
		return 0
	}
	return hp * 5252.0 / rpm
}
