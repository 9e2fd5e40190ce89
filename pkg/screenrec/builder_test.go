package screenrec

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var buildTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

func countAudioInputs(argv []string) int {
	n := 0
	for _, arg := range argv {
		if strings.HasPrefix(arg, "audio=") {
			n++
		}
	}
	return n
}

// follows returns true if want appears in argv right after flag
func follows(argv []string, flag string, want string) bool {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == flag && argv[i+1] == want {
			return true
		}
	}
	return false
}

func TestBuildFullDesktopNoAudio(t *testing.T) {
	b := &CommandBuilder{}
	spec := CaptureSpec{Mode: FullDesktop, FrameRate: 30, Quality: QualityMedium}

	argv, out, err := b.Build(spec, "", fixedClock(buildTime))
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", argv[0])
	assert.True(t, follows(argv, "-f", "gdigrab"))
	assert.True(t, follows(argv, "-i", "desktop"))
	assert.True(t, follows(argv, "-framerate", "30"))
	assert.True(t, follows(argv, "-preset", "fast"))
	assert.True(t, follows(argv, "-crf", "23"))
	assert.True(t, follows(argv, "-pix_fmt", "yuv420p"))
	assert.NotContains(t, argv, "-c:a")
	assert.NotContains(t, argv, "-filter_complex")
	assert.Zero(t, countAudioInputs(argv))

	assert.Equal(t, "recording_20240309_140507.mp4", out)
	assert.Equal(t, out, argv[len(argv)-1])
}

func TestBuildMonitorWithSystemAudio(t *testing.T) {
	b := &CommandBuilder{}
	spec := CaptureSpec{
		Mode: Monitor,
		Monitors: []MonitorInfo{
			{Name: "Monitor 1 (PRIMARY)", X: 0, Y: 0, Width: 2560, Height: 1440, IsPrimary: true},
			{Name: "Monitor 2", X: 1920, Y: 0, Width: 1920, Height: 1080},
		},
		MonitorIndex: 1,
		FrameRate:    30,
		Quality:      QualityHigh,
		Audio:        AudioSelection{System: "Stereo Mix (Realtek(R) Audio)"},
	}

	argv, out, err := b.Build(spec, filepath.Join("videos", "out"), fixedClock(buildTime))
	require.NoError(t, err)

	assert.True(t, follows(argv, "-offset_x", "1920"))
	assert.True(t, follows(argv, "-offset_y", "0"))
	assert.True(t, follows(argv, "-video_size", "1920x1080"))
	assert.Equal(t, 1, countAudioInputs(argv))
	assert.True(t, follows(argv, "-i", "audio=Stereo Mix (Realtek(R) Audio)"), "device name must be passed verbatim")
	assert.True(t, follows(argv, "-f", "dshow"))
	assert.True(t, follows(argv, "-c:a", "aac"))
	assert.True(t, follows(argv, "-b:a", "192k"))
	assert.NotContains(t, argv, "-filter_complex")

	assert.Equal(t, filepath.Join("videos", "out", "recording_20240309_140507.mp4"), out)
}

func TestBuildTwoAudioSourcesAreMixed(t *testing.T) {
	b := &CommandBuilder{AudioBitrate: "128k"}
	spec := CaptureSpec{
		Mode:      FullDesktop,
		FrameRate: 24,
		Quality:   QualityLow,
		Audio: AudioSelection{
			System:     "Stereo Mix (Realtek Audio)",
			Microphone: "Microphone Array (Intel® Smart Sound)",
		},
	}

	argv, _, err := b.Build(spec, "", fixedClock(buildTime))
	require.NoError(t, err)

	assert.Equal(t, 2, countAudioInputs(argv))
	assert.True(t, follows(argv, "-filter_complex", "[1:a][2:a]amix=inputs=2:duration=longest[aout]"))
	assert.True(t, follows(argv, "-map", "[aout]"))
	assert.True(t, follows(argv, "-b:a", "128k"))

	// system audio is always declared before the microphone
	var order []string
	for _, arg := range argv {
		if strings.HasPrefix(arg, "audio=") {
			order = append(order, arg)
		}
	}
	assert.Equal(t, []string{"audio=Stereo Mix (Realtek Audio)", "audio=Microphone Array (Intel® Smart Sound)"}, order)
}

func TestBuildMicrophoneOnly(t *testing.T) {
	b := &CommandBuilder{}
	spec := CaptureSpec{Mode: FullDesktop, FrameRate: 30, Audio: AudioSelection{Microphone: "Microphone (USB Audio Device)"}}

	argv, _, err := b.Build(spec, "", fixedClock(buildTime))
	require.NoError(t, err)

	assert.Equal(t, 1, countAudioInputs(argv))
	assert.NotContains(t, argv, "-filter_complex")
	assert.Contains(t, argv, "-c:a")
}

func TestBuildSameDeviceForBothAudioRoles(t *testing.T) {
	b := &CommandBuilder{}
	spec := CaptureSpec{Mode: FullDesktop, FrameRate: 30, Audio: AudioSelection{
		System:     "Stereo Mix (Realtek Audio)",
		Microphone: "Stereo Mix (Realtek Audio)",
	}}

	argv, _, err := b.Build(spec, "", fixedClock(buildTime))
	require.NoError(t, err)

	assert.Equal(t, 1, countAudioInputs(argv))
	assert.NotContains(t, argv, "-filter_complex")
	assert.Contains(t, argv, "-c:a")
	assert.Equal(t, []string{"Stereo Mix (Realtek Audio)"}, spec.Audio.Sources())
}

func TestBuildWindowAndArea(t *testing.T) {
	b := &CommandBuilder{}

	argv, _, err := b.Build(CaptureSpec{Mode: Window, WindowTitle: "Untitled - Notepad", FrameRate: 15}, "", fixedClock(buildTime))
	require.NoError(t, err)
	assert.True(t, follows(argv, "-i", "title=Untitled - Notepad"))
	assert.NotContains(t, argv, "-offset_x")

	argv, _, err = b.Build(CaptureSpec{Mode: CustomArea, Area: Rect{X: 100, Y: 50, Width: 800, Height: 600}, FrameRate: 60}, "", fixedClock(buildTime))
	require.NoError(t, err)
	assert.True(t, follows(argv, "-offset_x", "100"))
	assert.True(t, follows(argv, "-offset_y", "50"))
	assert.True(t, follows(argv, "-video_size", "800x600"))
	assert.True(t, follows(argv, "-i", "desktop"))
	assert.True(t, follows(argv, "-framerate", "60"))
}

func TestBuildConfigurationErrors(t *testing.T) {
	b := &CommandBuilder{}

	cases := map[string]CaptureSpec{
		"window without title":   {Mode: Window, FrameRate: 30},
		"window blank title":     {Mode: Window, WindowTitle: "   ", FrameRate: 30},
		"monitor without list":   {Mode: Monitor, FrameRate: 30},
		"monitor index too high": {Mode: Monitor, Monitors: []MonitorInfo{{Width: 1, Height: 1}}, MonitorIndex: 1, FrameRate: 30},
		"area without size":      {Mode: CustomArea, FrameRate: 30},
		"zero frame rate":        {Mode: FullDesktop},
		"unknown mode":           {Mode: CaptureMode(42), FrameRate: 30},
	}

	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			argv, out, err := b.Build(spec, "", fixedClock(buildTime))

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Nil(t, argv)
			assert.Empty(t, out)
		})
	}
}

func TestBuildPixelFormatAlwaysPresent(t *testing.T) {
	specs := []CaptureSpec{
		{Mode: FullDesktop, FrameRate: 30},
		{Mode: Window, WindowTitle: "x", FrameRate: 30, Audio: AudioSelection{System: "a"}},
		{Mode: CustomArea, Area: Rect{Width: 10, Height: 10}, FrameRate: 30, Audio: AudioSelection{System: "a", Microphone: "b"}},
		{Mode: Monitor, Monitors: []MonitorInfo{{Width: 10, Height: 10}}, FrameRate: 30, Quality: QualityUltra},
	}

	for _, scheme := range []QualityScheme{SchemePreset, SchemeFactorOnly} {
		b := &CommandBuilder{Scheme: scheme}
		for _, spec := range specs {
			argv, _, err := b.Build(spec, "", fixedClock(buildTime))
			require.NoError(t, err)
			assert.True(t, follows(argv, "-pix_fmt", "yuv420p"), "%v", argv)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := &CommandBuilder{}
	spec := CaptureSpec{Mode: FullDesktop, FrameRate: 30, Audio: AudioSelection{System: "Stereo Mix", Microphone: "Mic"}}

	first, firstOut, err := b.Build(spec, "out", fixedClock(buildTime))
	require.NoError(t, err)
	second, secondOut, err := b.Build(spec, "out", fixedClock(buildTime))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstOut, secondOut)

	// only the embedded timestamp differs for a different clock
	later, laterOut, err := b.Build(spec, "out", fixedClock(buildTime.Add(time.Second)))
	require.NoError(t, err)
	assert.NotEqual(t, firstOut, laterOut)
	assert.Equal(t, first[:len(first)-1], later[:len(later)-1])
}

func TestBuildDurationAndDiagnosticNaming(t *testing.T) {
	b := &CommandBuilder{
		ToolPath:        `C:\ffmpeg\bin\ffmpeg.exe`,
		Scheme:          SchemeFactorOnly,
		FilePrefix:      "test_",
		TimestampLayout: "150405",
		Overwrite:       true,
	}
	spec := CaptureSpec{Mode: FullDesktop, FrameRate: 15, Quality: QualityMedium, Duration: 3 * time.Second}

	argv, out, err := b.Build(spec, "", fixedClock(buildTime))
	require.NoError(t, err)

	assert.Equal(t, `C:\ffmpeg\bin\ffmpeg.exe`, argv[0])
	assert.Equal(t, "test_140507.mp4", out)
	assert.True(t, follows(argv, "-t", "3"))
	assert.True(t, follows(argv, "-preset", "ultrafast"))
	assert.Equal(t, "-y", argv[len(argv)-2])
}

func TestCommandLine(t *testing.T) {
	got := CommandLine([]string{"ffmpeg", "-i", "audio=Stereo Mix (Realtek Audio)", "out.mp4"})
	assert.Equal(t, `ffmpeg -i "audio=Stereo Mix (Realtek Audio)" out.mp4`, got)
}
