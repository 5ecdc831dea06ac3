package entities

import (
	"math"
	"strings"
)

const (
	MinHeartRate = 50.0
	MaxHeartRate = 120.0

	MinHeartbeatIntensity = 1.05
	MaxHeartbeatIntensity = 1.15

	DefaultAffinityLevel = "neutral"
)

// AffinityState is the last known relationship score.
type AffinityState struct {
	Value float64 `json:"value"`
	Level string  `json:"level"`
}

// HeartRate maps the score onto beats per minute in [MinHeartRate, MaxHeartRate].
func (a AffinityState) HeartRate() float64 {
	return HeartRate(a.Value)
}

func (a AffinityState) Intensity() float64 {
	return HeartbeatIntensity(a.Value)
}

func HeartRate(value float64) float64 {
	rate := MinHeartRate + (value/100)*(MaxHeartRate-MinHeartRate)
	return clamp(rate, MinHeartRate, MaxHeartRate)
}

func HeartbeatIntensity(value float64) float64 {
	intensity := MinHeartbeatIntensity + (value/100)*(MaxHeartbeatIntensity-MinHeartbeatIntensity)
	return clamp(intensity, MinHeartbeatIntensity, MaxHeartbeatIntensity)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

var affinityLevelNames = map[string]string{
	"hatred":       "Hatred",
	"hostile":      "Hostile",
	"indifferent":  "Indifferent",
	"neutral":      "Neutral",
	"friendly":     "Friendly",
	"close":        "Close",
	"devoted":      "Devoted",
	"stranger":     "Stranger",
	"acquaintance": "Acquaintance",
	"friend":       "Friend",
	"soulmate":     "Soulmate",
}

// AffinityLevelName returns the display name of a level, or "" when unknown.
func AffinityLevelName(level string) string {
	return affinityLevelNames[strings.ToLower(level)]
}
