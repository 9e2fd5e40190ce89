package screenrec

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

// the textual contracts below are owned by ffmpeg and PowerShell, and they shift with locale and version

var (
	// [dshow @ 0000020b] "Microphone (Realtek(R) Audio)" (audio)
	dshowDeviceLinePattern = regexp.MustCompile(`"([^"]+)"\s*(?:\(([^)]*)\))?\s*$`)

	// [dshow @ 0000020b]   Alternative name "@device_cm_{33D9A762-...}\wave_{...}"
	dshowAlternativeNamePattern = regexp.MustCompile(`Alternative name\s+"([^"]+)"`)

	// Monitor 2 (PRIMARY)|1920|0|1920|1080
	primaryMarker = "(primary)"
)

const (
	dshowAudioSectionHeader = "DirectShow audio devices"
	dshowVideoSectionHeader = "DirectShow video devices"

	monitorLabelName    = "Monitor:"
	monitorLabelPrimary = "Primary:"
	monitorLabelBounds  = "Bounds:"
	monitorBlockEnd     = "---"
)

// ParseAudioDevices extracts DirectShow audio device names from `ffmpeg -list_devices` output.
// Both the tagged format ("name" (audio)) and the older sectioned format are understood
func ParseAudioDevices(output string) []AudioDevice {
	devices := []AudioDevice{}
	seen := map[string]bool{}

	inAudioSection := false
	lastWasAudio := false

	for _, line := range util.SplitLines(output) {
		if m := dshowAlternativeNamePattern.FindStringSubmatch(line); m != nil {
			if lastWasAudio && len(devices) > 0 && devices[len(devices)-1].AlternativeName == "" {
				devices[len(devices)-1].AlternativeName = m[1]
			}
			continue
		}

		if strings.Contains(line, dshowAudioSectionHeader) {
			inAudioSection = true
			lastWasAudio = false
			continue
		}
		if strings.Contains(line, dshowVideoSectionHeader) {
			inAudioSection = false
			lastWasAudio = false
			continue
		}

		m := dshowDeviceLinePattern.FindStringSubmatch(line)
		if m == nil {
			lastWasAudio = false
			continue
		}

		name, tag := m[1], strings.ToLower(m[2])

		isAudio := false
		if tag != "" {
			isAudio = strings.Contains(tag, "audio")
		} else {
			isAudio = inAudioSection
		}

		lastWasAudio = false
		if !isAudio || seen[name] {
			continue
		}

		seen[name] = true
		devices = append(devices, AudioDevice{Name: name})
		lastWasAudio = true
	}

	return devices
}

// ParseMonitors reads screen enumeration output. It accepts pipe-delimited lines
// (name|x|y|width|height) and label-prefixed blocks (Monitor:/Primary:/Bounds:/---).
// Malformed lines are skipped
func ParseMonitors(output string) []MonitorInfo {
	monitors := []MonitorInfo{}

	var current *MonitorInfo
	hasBounds := false

	flush := func() {
		if current != nil && hasBounds {
			monitors = append(monitors, *current)
		}
		current = nil
		hasBounds = false
	}

	for _, raw := range util.SplitLines(output) {
		line := strings.TrimSpace(raw)

		switch {
		case strings.Contains(line, "|"):
			if m, ok := parsePipeMonitor(line); ok {
				monitors = append(monitors, m)
			}

		case strings.HasPrefix(line, monitorLabelName):
			flush()
			current = &MonitorInfo{Name: strings.TrimSpace(strings.TrimPrefix(line, monitorLabelName))}

		case strings.HasPrefix(line, monitorLabelPrimary):
			if current != nil {
				current.IsPrimary = strings.Contains(line, "True")
			}

		case strings.HasPrefix(line, monitorLabelBounds):
			if current == nil {
				continue
			}
			bounds := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, monitorLabelBounds)), ",")
			if r, ok := parseRect(bounds); ok {
				current.X, current.Y, current.Width, current.Height = r.X, r.Y, r.Width, r.Height
				hasBounds = true
			}

		case line == monitorBlockEnd:
			flush()
		}
	}

	flush()

	return monitors
}

func parsePipeMonitor(line string) (MonitorInfo, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 5 {
		return MonitorInfo{}, false
	}

	r, ok := parseRect(parts[1:])
	if !ok {
		return MonitorInfo{}, false
	}

	name := strings.TrimSpace(parts[0])

	return MonitorInfo{
		Name:      name,
		X:         r.X,
		Y:         r.Y,
		Width:     r.Width,
		Height:    r.Height,
		IsPrimary: strings.Contains(strings.ToLower(name), primaryMarker),
	}, true
}

func parseRect(fields []string) (Rect, bool) {
	if len(fields) != 4 {
		return Rect{}, false
	}

	values := make([]int, 4)
	for i, field := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return Rect{}, false
		}
		values[i] = v
	}

	if values[2] <= 0 || values[3] <= 0 {
		return Rect{}, false
	}

	return Rect{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, true
}

// ParseWindowTitles reads one title per line, dropping blanks, PowerShell table headers and duplicates
func ParseWindowTitles(output string) []string {
	titles := []string{}

	for _, line := range util.SplitLines(output) {
		titles = append(titles, strings.TrimSpace(line))
	}

	titles = funk.FilterString(titles, func(s string) bool {
		return s != "" && s != "MainWindowTitle" && strings.Trim(s, "-") != ""
	})

	return funk.UniqString(titles)
}
