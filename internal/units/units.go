// Package units provides shared constants and conversions for the
// measurement units exposed by the API.
package units

// Temperature unit constants
const (
	Celsius    = "celsius"
	Fahrenheit = "fahrenheit"
)

// Distance unit constants
const (
	Centimeters = "cm"
	Inches      = "in"
)

// Pressure unit constants
const (
	Hectopascals  = "hpa"
	InchesMercury = "inhg"
)

// ValidTemperatureUnits contains all valid temperature unit values
var ValidTemperatureUnits = []string{Celsius, Fahrenheit}

// IsValidTemperature checks if the given unit is a known temperature unit
func IsValidTemperature(unit string) bool {
	for _, u := range ValidTemperatureUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ValidDistanceUnits contains all valid distance unit values
var ValidDistanceUnits = []string{Centimeters, Inches}

// IsValidDistance checks if the given unit is a known distance unit
func IsValidDistance(unit string) bool {
	for _, u := range ValidDistanceUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ConvertTemperature converts a temperature from degrees Celsius to the
// target units. The database stores temperatures in Celsius.
func ConvertTemperature(tempC float64, targetUnits string) float64 {
	switch targetUnits {
	case Fahrenheit:
		return tempC*9.0/5.0 + 32.0
	case Celsius:
		return tempC // no conversion needed
	default:
		return tempC // default to Celsius if unknown unit
	}
}

// ConvertPressure converts a pressure from hectopascals to the target units.
// The database stores pressures in hPa.
func ConvertPressure(pressureHPA float64, targetUnits string) float64 {
	switch targetUnits {
	case InchesMercury:
		return pressureHPA * 0.02953 // hPa to inHg
	case Hectopascals:
		return pressureHPA
	default:
		return pressureHPA
	}
}

// ConvertDistance converts a distance from centimeters to the target units.
// Sonar sweeps report distances in cm.
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	switch targetUnits {
	case Inches:
		return distanceCM / 2.54
	case Centimeters:
		return distanceCM
	default:
		return distanceCM
	}
}
