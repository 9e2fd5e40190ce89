package screenrec

import (
	"fmt"
	"strings"
	"time"
)

// CaptureMode selects what part of the screen gets recorded
type CaptureMode int

const (
	// FullDesktop records the whole virtual desktop, all monitors included
	FullDesktop CaptureMode = iota

	// Monitor records the bounds of one enumerated monitor
	Monitor

	// Window records a single window, addressed by its title
	Window

	// CustomArea records an explicit rectangle
	CustomArea
)

var captureModeNames = map[CaptureMode]string{
	FullDesktop: "desktop",
	Monitor:     "monitor",
	Window:      "window",
	CustomArea:  "area",
}

func (m CaptureMode) String() string {
	if name, ok := captureModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("CaptureMode(%d)", int(m))
}

// ParseCaptureMode accepts the names used in config files and on the command line
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desktop", "fullscreen", "full", "":
		return FullDesktop, nil
	case "monitor", "screen":
		return Monitor, nil
	case "window":
		return Window, nil
	case "area", "custom", "region":
		return CustomArea, nil
	}

	return FullDesktop, configError("capture mode", "unknown mode %q", s)
}

// MonitorInfo describes one physical screen in virtual desktop coordinates
type MonitorInfo struct {
	Name      string
	X         int
	Y         int
	Width     int
	Height    int
	IsPrimary bool
}

func (m MonitorInfo) String() string {
	return fmt.Sprintf("%s - %dx%d", m.Name, m.Width, m.Height)
}

// Rect is a capture rectangle in virtual desktop coordinates
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// AudioDevice is a DirectShow audio capture device as reported by ffmpeg.
// Name must be handed back to ffmpeg verbatim
type AudioDevice struct {
	Name            string
	AlternativeName string
}

func (d AudioDevice) String() string {
	return d.Name
}

// AudioSelection holds up to two audio sources. Empty means not selected
type AudioSelection struct {
	System     string
	Microphone string
}

// Sources returns the selected device names in capture order: system first, then microphone.
// A device picked for both roles is opened once, dshow can't open the same endpoint twice
func (a AudioSelection) Sources() []string {
	sources := []string{}
	if a.System != "" {
		sources = append(sources, a.System)
	}
	if a.Microphone != "" && !strings.EqualFold(a.Microphone, a.System) {
		sources = append(sources, a.Microphone)
	}
	return sources
}

// CaptureSpec is everything needed to build one recording command
type CaptureSpec struct {
	Mode CaptureMode

	// Monitor mode
	Monitors     []MonitorInfo
	MonitorIndex int

	// Window mode
	WindowTitle string

	// CustomArea mode
	Area Rect

	FrameRate int
	Quality   QualityPreset
	Audio     AudioSelection

	// Duration limits the recording; zero means run until stopped
	Duration time.Duration
}
