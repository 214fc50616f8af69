package serialmux

import "strings"

const (
	EventTypeSample  = "sample"
	EventTypeEnv     = "env"
	EventTypeSweep   = "sweep"
	EventTypeConfig  = "config"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a payload line from a sensor board and returns a
// simple event type token. Sample lines are "millis,value"; sweep lines are
// "angle,echo_us" prefixed with "A"; environment and config responses are
// JSON objects.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return EventTypeUnknown
	}
	if strings.HasPrefix(payload, "A") {
		return EventTypeSweep
	}
	if strings.HasPrefix(payload, "{") {
		if strings.Contains(payload, "temperature") || strings.Contains(payload, "pressure") {
			return EventTypeEnv
		}
		return EventTypeConfig
	}
	if strings.Count(payload, ",") == 1 {
		return EventTypeSample
	}
	return EventTypeUnknown
}
