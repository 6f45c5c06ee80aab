package eventbus

import (
	"encoding/json"
	"time"
)

// HitEvent is one redirect observation. Immutable once emitted.
type HitEvent struct {
	Code       string    `json:"code"`
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	Referrer   string    `json:"referrer,omitempty"`
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Browser    string    `json:"browser,omitempty"`
	OS         string    `json:"os,omitempty"`
}

// Valid reports whether the required fields are present.
func (e *HitEvent) Valid() bool {
	return e.Code != "" && e.IP != "" && e.UserAgent != "" && !e.Timestamp.IsZero()
}

func (e *HitEvent) encode() (string, error) {
	data, err := json.Marshal(e)
	return string(data), err
}

func decodeEvent(raw string) (HitEvent, error) {
	var e HitEvent
	err := json.Unmarshal([]byte(raw), &e)
	return e, err
}
