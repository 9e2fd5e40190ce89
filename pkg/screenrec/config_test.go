package screenrec

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) received() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.titles...)
}

func newTestConfig(t *testing.T, yaml string) (*CanonicalConfig, *fakeNotifier, string) {
	t.Helper()

	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, userConfigFilename), []byte(yaml), 0o644))
	}

	notifier := &fakeNotifier{}
	cc, err := newConfigIn(zap.NewNop().Sugar(), notifier, dir)
	require.NoError(t, err)

	return cc, notifier, dir
}

func TestConfigDefaultsWithoutFile(t *testing.T) {
	cc, notifier, _ := newTestConfig(t, "")

	require.NoError(t, cc.Load())

	assert.Equal(t, "ffmpeg", cc.Tools.FFmpegPath)
	assert.Equal(t, "ffprobe", cc.Tools.FFprobePath)
	assert.Equal(t, "powershell", cc.Tools.PowerShellPath)
	assert.Equal(t, ".", cc.OutputDir)
	assert.Equal(t, SchemePreset, cc.QualityScheme)
	assert.Equal(t, "192k", cc.AudioBitrate)
	assert.Equal(t, 5*time.Second, cc.StopTimeout)
	assert.Equal(t, 10*time.Second, cc.EnumerationTimeout)
	assert.EqualValues(t, 1000, cc.MinOutputBytes)
	assert.False(t, cc.NativeWindowEnumeration)

	sel := cc.Selection()
	assert.Equal(t, FullDesktop, sel.Mode)
	assert.Equal(t, 30, sel.FrameRate)
	assert.Equal(t, QualityMedium, sel.Quality)
	assert.Empty(t, sel.Audio.Sources())

	assert.Empty(t, notifier.received())
}

func TestConfigReadsFile(t *testing.T) {
	cc, _, _ := newTestConfig(t, `
ffmpeg_path: C:\tools\ffmpeg.exe
output_dir: recordings
capture_mode: area
area:
  left: 10
  top: 20
  width: 640
  height: 480
frame_rate: 60
quality: ultra
quality_scheme: crf
audio:
  system: Stereo Mix (Realtek(R) Audio)
  microphone: Microphone (USB Audio)
audio_bitrate: 128k
stop_timeout: 8
enumeration_timeout: 2500ms
min_output_bytes: 4096
window_enumeration: native
`)

	require.NoError(t, cc.Load())

	assert.Equal(t, `C:\tools\ffmpeg.exe`, cc.Tools.FFmpegPath)
	assert.Equal(t, "recordings", cc.OutputDir)
	assert.Equal(t, SchemeFactorOnly, cc.QualityScheme)
	assert.Equal(t, "128k", cc.AudioBitrate)
	assert.Equal(t, 8*time.Second, cc.StopTimeout)
	assert.Equal(t, 2500*time.Millisecond, cc.EnumerationTimeout)
	assert.EqualValues(t, 4096, cc.MinOutputBytes)
	assert.True(t, cc.NativeWindowEnumeration)

	sel := cc.Selection()
	assert.Equal(t, CustomArea, sel.Mode)
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 640, Height: 480}, sel.Area)
	assert.Equal(t, 60, sel.FrameRate)
	assert.Equal(t, QualityUltra, sel.Quality)
	assert.Equal(t, AudioSelection{System: "Stereo Mix (Realtek(R) Audio)", Microphone: "Microphone (USB Audio)"}, sel.Audio)
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	for _, yaml := range []string{
		"capture_mode: hologram\n",
		"quality: extreme\n",
		"quality_scheme: vbr\n",
		"frame_rate: 0\n",
		"stop_timeout: soon\n",
		"min_output_bytes: -5\n",
		"window_enumeration: magic\n",
	} {
		cc, notifier, _ := newTestConfig(t, yaml)

		err := cc.Load()

		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), yaml)
		assert.Contains(t, notifier.received(), "Invalid configuration!", yaml)
	}
}

func TestConfigRejectsMalformedYAML(t *testing.T) {
	cc, notifier, _ := newTestConfig(t, "frame_rate: [30\n")

	assert.Error(t, cc.Load())
	assert.Equal(t, []string{"Invalid configuration!"}, notifier.received())
}

func TestUpdateSelectionIsRemembered(t *testing.T) {
	cc, _, dir := newTestConfig(t, "frame_rate: 24\n")
	require.NoError(t, cc.Load())

	require.NoError(t, cc.UpdateSelection(func(sel *CaptureSelection) {
		sel.Mode = Window
		sel.WindowTitle = "Untitled - Notepad"
		sel.Quality = QualityHigh
		sel.Audio.Microphone = "Microphone (USB Audio)"
	}))

	assert.Equal(t, Window, cc.Selection().Mode)
	assert.FileExists(t, filepath.Join(dir, logDirectory, "preferences.yaml"))

	reloaded, err := newConfigIn(zap.NewNop().Sugar(), &fakeNotifier{}, dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	sel := reloaded.Selection()
	assert.Equal(t, Window, sel.Mode)
	assert.Equal(t, "Untitled - Notepad", sel.WindowTitle)
	assert.Equal(t, QualityHigh, sel.Quality)
	assert.Equal(t, 24, sel.FrameRate)
	assert.Equal(t, "Microphone (USB Audio)", sel.Audio.Microphone)
}

func TestForgetPreferences(t *testing.T) {
	cc, _, dir := newTestConfig(t, "")
	require.NoError(t, cc.Load())

	require.NoError(t, cc.UpdateSelection(func(sel *CaptureSelection) {
		sel.FrameRate = 15
	}))

	cc.forgetPreferences()
	require.NoError(t, cc.Load())

	assert.Equal(t, 30, cc.Selection().FrameRate)
	assert.NoFileExists(t, filepath.Join(dir, logDirectory, "preferences.yaml"))
}

func TestSelectionUpdatesDuringReload(t *testing.T) {
	cc, _, dir := newTestConfig(t, "")
	require.NoError(t, cc.Load())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			frameRate := i
			assert.NoError(t, cc.UpdateSelection(func(sel *CaptureSelection) {
				sel.FrameRate = frameRate
			}))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			cc.forgetPreferences()
			assert.NoError(t, cc.Load())
		}
	}()

	wg.Wait()

	require.NoError(t, cc.UpdateSelection(func(sel *CaptureSelection) {
		sel.FrameRate = 12
	}))

	reloaded, err := newConfigIn(zap.NewNop().Sugar(), &fakeNotifier{}, dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 12, reloaded.Selection().FrameRate)
}

func TestConfigAccessors(t *testing.T) {
	cc, _, _ := newTestConfig(t, `
ffmpeg_path: /opt/ffmpeg
powershell_path: pwsh
capture_mode: monitor
monitor_index: 1
quality: low
audio_bitrate: 96k
stop_timeout: 3s
`)
	require.NoError(t, cc.Load())

	monitors := []MonitorInfo{
		{Name: "Monitor 1 (PRIMARY)", Width: 1920, Height: 1080, IsPrimary: true},
		{Name: "Monitor 2", X: 1920, Width: 1280, Height: 1024},
	}

	spec := cc.CaptureSpec(monitors)
	assert.Equal(t, Monitor, spec.Mode)
	assert.Equal(t, 1, spec.MonitorIndex)
	assert.Equal(t, monitors, spec.Monitors)
	assert.Equal(t, QualityLow, spec.Quality)
	assert.Zero(t, spec.Duration)

	builder := cc.CommandBuilder()
	assert.Equal(t, "/opt/ffmpeg", builder.ToolPath)
	assert.Equal(t, "96k", builder.AudioBitrate)

	opts := cc.EnumeratorOptions()
	assert.Equal(t, "/opt/ffmpeg", opts.ToolPath)
	assert.Equal(t, "pwsh", opts.ShellPath)

	assert.Equal(t, 3*time.Second, cc.ControllerOptions().StopTimeout)
}

func TestOnConfigReloadedSkipsBusyConsumers(t *testing.T) {
	cc, _, _ := newTestConfig(t, "")

	busy := cc.SubscribeToChanges()
	cc.onConfigReloaded()

	select {
	case <-busy:
		t.Fatal("unexpected reload signal")
	default:
	}

	cc.closeReloadChannels()
	_, open := <-busy
	assert.False(t, open)
}

func TestEnsureUserConfigFileWritesDefaults(t *testing.T) {
	cc, _, dir := newTestConfig(t, "")

	require.NoError(t, cc.EnsureUserConfigFile())
	assert.FileExists(t, filepath.Join(dir, userConfigFilename))

	// a second call leaves the existing file alone
	require.NoError(t, cc.EnsureUserConfigFile())

	reloaded, err := newConfigIn(zap.NewNop().Sugar(), &fakeNotifier{}, dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	assert.Equal(t, 30, reloaded.Selection().FrameRate)
	assert.Equal(t, 5*time.Second, reloaded.StopTimeout)
}

func TestConfigAreaOffsetsSurviveDefaultFile(t *testing.T) {
	cc, _, dir := newTestConfig(t, "")
	require.NoError(t, cc.EnsureUserConfigFile())

	written, err := os.ReadFile(filepath.Join(dir, userConfigFilename))
	require.NoError(t, err)
	assert.Contains(t, string(written), "top: 0")

	require.NoError(t, os.WriteFile(filepath.Join(dir, userConfigFilename), []byte(`
capture_mode: area
area:
  left: 100
  top: 200
  width: 640
  height: 480
`), 0o644))

	reloaded, err := newConfigIn(zap.NewNop().Sugar(), &fakeNotifier{}, dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	argv, _, err := reloaded.CommandBuilder().Build(reloaded.CaptureSpec(nil), dir, fixedClock(buildTime))
	require.NoError(t, err)
	assert.True(t, follows(argv, "-offset_x", "100"))
	assert.True(t, follows(argv, "-offset_y", "200"))
	assert.True(t, follows(argv, "-video_size", "640x480"))
}
