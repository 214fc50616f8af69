package sim

import "math"

// Scene models what a sweeping ultrasonic sensor would see in dev mode: an
// open room with a flat wall ahead and one closer object in part of the arc.
type Scene struct {
	WallCM float64 // distance to the back wall at 90°

	ObjectCM    float64 // distance to the object
	ObjectAt    float64 // object centre angle in degrees
	ObjectWidth float64 // object angular width in degrees
}

// NewScene returns a scene with a wall at 3m and a target at 60cm around 45°.
func NewScene() *Scene {
	return &Scene{
		WallCM:      300,
		ObjectCM:    60,
		ObjectAt:    45,
		ObjectWidth: 20,
	}
}

// EchoMicros returns the round-trip echo time in microseconds for a reading
// at the given servo angle.
func (s *Scene) EchoMicros(angleDeg float64) float64 {
	distanceCM := s.distanceCM(angleDeg)
	// time = distance * 2 / speed of sound (0.034 cm/µs)
	return distanceCM * 2 / 0.034
}

func (s *Scene) distanceCM(angleDeg float64) float64 {
	if math.Abs(angleDeg-s.ObjectAt) <= s.ObjectWidth/2 {
		return s.ObjectCM
	}
	// a flat wall ahead: range grows as the beam sweeps away from the normal
	theta := (angleDeg - 90) * math.Pi / 180
	cos := math.Cos(theta)
	if cos < 0.2 {
		cos = 0.2 // grazing angles, clamp so the range stays finite
	}
	return s.WallCM / cos
}
