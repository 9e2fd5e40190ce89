package screenrec

import (
	"fmt"
	"strings"
)

// QualityPreset is the user-facing quality level
type QualityPreset int

const (
	QualityLow QualityPreset = iota
	QualityMedium
	QualityHigh
	QualityUltra
)

var qualityNames = map[QualityPreset]string{
	QualityLow:    "low",
	QualityMedium: "medium",
	QualityHigh:   "high",
	QualityUltra:  "ultra",
}

func (q QualityPreset) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("QualityPreset(%d)", int(q))
}

// ParseQualityPreset accepts both front ends' labels, e.g. "medium", "good" or "23 (Good)"
func ParseQualityPreset(s string) (QualityPreset, error) {
	label := strings.ToLower(strings.TrimSpace(s))

	// "23 (Good)" style labels: the factor wins
	if fields := strings.Fields(label); len(fields) > 0 {
		switch fields[0] {
		case "28":
			return QualityLow, nil
		case "23":
			return QualityMedium, nil
		case "20", "18":
			return QualityHigh, nil
		}
	}

	switch label {
	case "low":
		return QualityLow, nil
	case "medium", "good", "":
		return QualityMedium, nil
	case "high", "best":
		return QualityHigh, nil
	case "ultra":
		return QualityUltra, nil
	}

	return QualityMedium, configError("quality", "unknown preset %q", s)
}

// EncoderTuning is the pair of x264 knobs a preset maps to.
// Lower Factor means higher fidelity and bigger files
type EncoderTuning struct {
	Effort string // x264 -preset
	Factor int    // x264 -crf
}

// QualityScheme decides how presets map to encoder tuning. Different front ends expose different controls
type QualityScheme int

const (
	// SchemePreset maps each level to an (effort, factor) pair
	SchemePreset QualityScheme = iota

	// SchemeFactorOnly only varies the factor and always encodes at the fastest effort
	SchemeFactorOnly
)

// ParseQualityScheme accepts "preset" or "crf"
func ParseQualityScheme(s string) (QualityScheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "preset", "":
		return SchemePreset, nil
	case "crf", "factor":
		return SchemeFactorOnly, nil
	}

	return SchemePreset, configError("quality scheme", "unknown scheme %q", s)
}

func (s QualityScheme) String() string {
	if s == SchemeFactorOnly {
		return "crf"
	}
	return "preset"
}

const fastestEffort = "ultrafast"

// exact values matter, players and existing recordings were tuned against them
var (
	presetTunings = map[QualityPreset]EncoderTuning{
		QualityLow:    {Effort: "ultrafast", Factor: 28},
		QualityMedium: {Effort: "fast", Factor: 23},
		QualityHigh:   {Effort: "medium", Factor: 20},
		QualityUltra:  {Effort: "slow", Factor: 18},
	}

	factorOnlyTunings = map[QualityPreset]EncoderTuning{
		QualityLow:    {Effort: fastestEffort, Factor: 28},
		QualityMedium: {Effort: fastestEffort, Factor: 23},
		QualityHigh:   {Effort: fastestEffort, Factor: 18},
		QualityUltra:  {Effort: fastestEffort, Factor: 18},
	}
)

// Tuning returns the encoder settings for a preset under this scheme
func (s QualityScheme) Tuning(q QualityPreset) (EncoderTuning, error) {
	table := presetTunings
	if s == SchemeFactorOnly {
		table = factorOnlyTunings
	}

	tuning, ok := table[q]
	if !ok {
		return EncoderTuning{}, configError("quality", "unknown preset %d", int(q))
	}

	return tuning, nil
}
