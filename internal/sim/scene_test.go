package sim

import (
	"math"
	"testing"
)

func TestSceneObjectCloserThanWall(t *testing.T) {
	s := NewScene()

	objectEcho := s.EchoMicros(s.ObjectAt)
	wallEcho := s.EchoMicros(90)
	if objectEcho >= wallEcho {
		t.Errorf("object echo %v not closer than wall echo %v", objectEcho, wallEcho)
	}

	// echo at the object should round-trip to the object distance
	gotCM := objectEcho * 0.034 / 2
	if math.Abs(gotCM-s.ObjectCM) > 0.1 {
		t.Errorf("object distance from echo = %v, want %v", gotCM, s.ObjectCM)
	}
}

func TestSceneWallRangeGrowsOffNormal(t *testing.T) {
	s := NewScene()
	straight := s.EchoMicros(90)
	oblique := s.EchoMicros(135)
	if oblique <= straight {
		t.Errorf("oblique echo %v should exceed straight-ahead echo %v", oblique, straight)
	}
}
