package screenrec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

// CaptureSelection is the part of the config the tray lets the user change on the fly
type CaptureSelection struct {
	Mode         CaptureMode
	MonitorIndex int
	WindowTitle  string
	Area         Rect
	FrameRate    int
	Quality      QualityPreset
	Audio        AudioSelection
}

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for screenrec's configuration file
type CanonicalConfig struct {
	Tools struct {
		FFmpegPath     string
		FFprobePath    string
		PowerShellPath string
	}

	OutputDir     string
	QualityScheme QualityScheme
	AudioBitrate  string

	StopTimeout             time.Duration
	EnumerationTimeout      time.Duration
	MinOutputBytes          int64
	NativeWindowEnumeration bool

	selection      CaptureSelection
	selectionMutex sync.RWMutex // also guards internalConfig, viper isn't safe for concurrent use

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool
	fileCreatedChannel chan bool

	reloadConsumers []chan bool

	userConfigFilepath  string
	preferencesFilepath string

	userConfig     *viper.Viper
	internalConfig *viper.Viper
}

const (
	userConfigFilename = "config.yaml"

	userConfigName     = "config"
	internalConfigName = "preferences"

	configType = "yaml"

	configKey_FFmpegPath     = "ffmpeg_path"
	configKey_FFprobePath    = "ffprobe_path"
	configKey_PowerShellPath = "powershell_path"
	configKey_OutputDir      = "output_dir"

	configKey_CaptureMode     = "capture_mode"
	configKey_MonitorIndex    = "monitor_index"
	configKey_WindowTitle     = "window_title"
	configKey_AreaLeft        = "area.left"
	configKey_AreaTop         = "area.top"
	configKey_AreaWidth       = "area.width"
	configKey_AreaHeight      = "area.height"
	configKey_FrameRate       = "frame_rate"
	configKey_Quality         = "quality"
	configKey_QualityScheme   = "quality_scheme"
	configKey_AudioSystem     = "audio.system"
	configKey_AudioMicrophone = "audio.microphone"
	configKey_AudioBitrate    = "audio_bitrate"

	configKey_StopTimeout        = "stop_timeout"
	configKey_EnumerationTimeout = "enumeration_timeout"
	configKey_MinOutputBytes     = "min_output_bytes"
	configKey_WindowEnumeration  = "window_enumeration"

	default_OutputDir         = "."
	default_CaptureMode       = "desktop"
	default_FrameRate         = 30
	default_Quality           = "medium"
	default_QualityScheme     = "preset"
	default_WindowEnumeration = "shell"

	windowEnumerationNative = "native"
)

// NewConfig creates a config instance for the recorder, reading config.yaml from the working directory
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	return newConfigIn(logger, notifier, ".")
}

func newConfigIn(logger *zap.SugaredLogger, notifier Notifier, dir string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:              logger,
		notifier:            notifier,
		reloadConsumers:     []chan bool{},
		stopWatcherChannel:  make(chan bool),
		fileCreatedChannel:  make(chan bool, 1),
		userConfigFilepath:  filepath.Join(dir, userConfigFilename),
		preferencesFilepath: filepath.Join(dir, logDirectory, internalConfigName+"."+configType),
	}

	// distinguish between the user-provided config (config.yaml) and the internal config (logs/preferences.yaml)
	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(dir)

	userConfig.SetDefault(configKey_FFmpegPath, defaultToolPath)
	userConfig.SetDefault(configKey_FFprobePath, defaultProbePath)
	userConfig.SetDefault(configKey_PowerShellPath, defaultShellPath)
	userConfig.SetDefault(configKey_OutputDir, default_OutputDir)
	userConfig.SetDefault(configKey_CaptureMode, default_CaptureMode)
	userConfig.SetDefault(configKey_MonitorIndex, 0)
	userConfig.SetDefault(configKey_WindowTitle, "")
	userConfig.SetDefault(configKey_AreaLeft, 0)
	userConfig.SetDefault(configKey_AreaTop, 0)
	userConfig.SetDefault(configKey_AreaWidth, 0)
	userConfig.SetDefault(configKey_AreaHeight, 0)
	userConfig.SetDefault(configKey_FrameRate, default_FrameRate)
	userConfig.SetDefault(configKey_Quality, default_Quality)
	userConfig.SetDefault(configKey_QualityScheme, default_QualityScheme)
	userConfig.SetDefault(configKey_AudioSystem, "")
	userConfig.SetDefault(configKey_AudioMicrophone, "")
	userConfig.SetDefault(configKey_AudioBitrate, defaultAudioBitrate)
	userConfig.SetDefault(configKey_StopTimeout, defaultStopTimeout.String())
	userConfig.SetDefault(configKey_EnumerationTimeout, defaultEnumerationTimeout.String())
	userConfig.SetDefault(configKey_MinOutputBytes, defaultMinOutputBytes)
	userConfig.SetDefault(configKey_WindowEnumeration, default_WindowEnumeration)

	internalConfig := viper.New()
	internalConfig.SetConfigFile(cc.preferencesFilepath)
	internalConfig.SetConfigType(configType)

	cc.userConfig = userConfig
	cc.internalConfig = internalConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads screenrec's config files from disk and tries to parse them.
// A missing config.yaml is fine, every key has a default
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.userConfigFilepath)

	if !util.FileExists(cc.userConfigFilepath) {
		cc.logger.Infow("Config file not found, using defaults", "path", cc.userConfigFilepath)
	} else if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilename))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check screenrec's logs for more details.")
		}
		return fmt.Errorf("read user config: %w", err)
	}

	if util.FileExists(cc.preferencesFilepath) {
		cc.selectionMutex.Lock()
		err := cc.internalConfig.ReadInConfig()
		cc.selectionMutex.Unlock()

		if err != nil {
			cc.logger.Debugw("Viper failed to read internal config", "error", err, "reminder", "this is fine")
		}
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		cc.notifier.Notify("Invalid configuration!", err.Error())
		return fmt.Errorf("populate config fields: %w", err)
	}

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"tools", cc.Tools,
		"outputDir", cc.OutputDir,
		"selection", cc.Selection(),
		"qualityScheme", cc.QualityScheme,
		"stopTimeout", cc.StopTimeout,
		"nativeWindowEnumeration", cc.NativeWindowEnumeration,
	)

	return nil
}

// Selection returns a copy of the current capture selection
func (cc *CanonicalConfig) Selection() CaptureSelection {
	cc.selectionMutex.RLock()
	defer cc.selectionMutex.RUnlock()

	return cc.selection
}

// UpdateSelection changes the capture selection and remembers it for the next run
func (cc *CanonicalConfig) UpdateSelection(update func(*CaptureSelection)) error {
	cc.selectionMutex.Lock()
	defer cc.selectionMutex.Unlock()

	update(&cc.selection)
	sel := cc.selection

	cc.internalConfig.Set(configKey_CaptureMode, sel.Mode.String())
	cc.internalConfig.Set(configKey_MonitorIndex, sel.MonitorIndex)
	cc.internalConfig.Set(configKey_WindowTitle, sel.WindowTitle)
	cc.internalConfig.Set(configKey_FrameRate, sel.FrameRate)
	cc.internalConfig.Set(configKey_Quality, sel.Quality.String())
	cc.internalConfig.Set(configKey_AudioSystem, sel.Audio.System)
	cc.internalConfig.Set(configKey_AudioMicrophone, sel.Audio.Microphone)

	if err := util.EnsureDirExists(filepath.Dir(cc.preferencesFilepath)); err != nil {
		cc.logger.Warnw("Failed to create preferences directory", "error", err)
		return fmt.Errorf("save preferences: %w", err)
	}

	if err := cc.internalConfig.WriteConfigAs(cc.preferencesFilepath); err != nil {
		cc.logger.Warnw("Failed to write preferences", "path", cc.preferencesFilepath, "error", err)
		return fmt.Errorf("save preferences: %w", err)
	}

	cc.logger.Debugw("Saved capture selection", "selection", sel)

	return nil
}

// CaptureSpec assembles a spec from the current selection. monitors comes from the enumerator
func (cc *CanonicalConfig) CaptureSpec(monitors []MonitorInfo) CaptureSpec {
	sel := cc.Selection()

	return CaptureSpec{
		Mode:         sel.Mode,
		Monitors:     monitors,
		MonitorIndex: sel.MonitorIndex,
		WindowTitle:  sel.WindowTitle,
		Area:         sel.Area,
		FrameRate:    sel.FrameRate,
		Quality:      sel.Quality,
		Audio:        sel.Audio,
	}
}

// CommandBuilder returns a builder for regular recordings
func (cc *CanonicalConfig) CommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		ToolPath:     cc.Tools.FFmpegPath,
		Scheme:       cc.QualityScheme,
		AudioBitrate: cc.AudioBitrate,
	}
}

// EnumeratorOptions returns the settings the device enumerator needs
func (cc *CanonicalConfig) EnumeratorOptions() EnumeratorOptions {
	return EnumeratorOptions{
		ToolPath:      cc.Tools.FFmpegPath,
		ShellPath:     cc.Tools.PowerShellPath,
		Timeout:       cc.EnumerationTimeout,
		NativeWindows: cc.NativeWindowEnumeration,
	}
}

// ControllerOptions returns the settings the session controller needs
func (cc *CanonicalConfig) ControllerOptions() ControllerOptions {
	return ControllerOptions{
		StopTimeout:    cc.StopTimeout,
		MinOutputBytes: cc.MinOutputBytes,
	}
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// Filepath returns where config.yaml lives
func (cc *CanonicalConfig) Filepath() string {
	return cc.userConfigFilepath
}

// EnsureUserConfigFile writes config.yaml with every default filled in, unless it already exists
func (cc *CanonicalConfig) EnsureUserConfigFile() error {
	if util.FileExists(cc.userConfigFilepath) {
		return nil
	}

	if err := cc.userConfig.SafeWriteConfigAs(cc.userConfigFilepath); err != nil {
		cc.logger.Warnw("Failed to write default config file", "path", cc.userConfigFilepath, "error", err)
		return fmt.Errorf("write default config: %w", err)
	}

	cc.logger.Infow("Wrote default config file", "path", cc.userConfigFilepath)

	select {
	case cc.fileCreatedChannel <- true:
	default:
	}

	return nil
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	if !util.FileExists(cc.userConfigFilepath) {
		cc.logger.Debugw("No user config file yet, waiting for one", "path", cc.userConfigFilepath)

		select {
		case <-cc.fileCreatedChannel:
		case <-cc.stopWatcherChannel:
			cc.logger.Debug("Stopping user config file watcher")
			return
		}
	}

	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {

		// when we get a write event...
		if event.Op&fsnotify.Write == fsnotify.Write {

			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {

				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				// an edited config.yaml wins over whatever the tray remembered
				cc.forgetPreferences()

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true

	cc.closeReloadChannels()
}

func (cc *CanonicalConfig) closeReloadChannels() {
	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil
	cc.logger.Debug("Closed all config reload channels")
}

func (cc *CanonicalConfig) forgetPreferences() {
	cc.selectionMutex.Lock()
	defer cc.selectionMutex.Unlock()

	cc.internalConfig = viper.New()
	cc.internalConfig.SetConfigFile(cc.preferencesFilepath)
	cc.internalConfig.SetConfigType(configType)

	if err := os.Remove(cc.preferencesFilepath); err != nil && !os.IsNotExist(err) {
		cc.logger.Warnw("Failed to remove preferences file", "path", cc.preferencesFilepath, "error", err)
	}
}

// remembered tray choices override config.yaml for the selection keys.
// Callers hold selectionMutex
func (cc *CanonicalConfig) selectionValue(key string) *viper.Viper {
	if cc.internalConfig.IsSet(key) {
		return cc.internalConfig
	}
	return cc.userConfig
}

func (cc *CanonicalConfig) populateFromVipers() error {
	uc := cc.userConfig

	cc.Tools.FFmpegPath = uc.GetString(configKey_FFmpegPath)
	cc.Tools.FFprobePath = uc.GetString(configKey_FFprobePath)
	cc.Tools.PowerShellPath = uc.GetString(configKey_PowerShellPath)
	cc.OutputDir = uc.GetString(configKey_OutputDir)
	cc.AudioBitrate = uc.GetString(configKey_AudioBitrate)

	scheme, err := ParseQualityScheme(uc.GetString(configKey_QualityScheme))
	if err != nil {
		return err
	}
	cc.QualityScheme = scheme

	if cc.StopTimeout, err = durationValue(uc, configKey_StopTimeout); err != nil {
		return err
	}
	if cc.EnumerationTimeout, err = durationValue(uc, configKey_EnumerationTimeout); err != nil {
		return err
	}

	cc.MinOutputBytes = uc.GetInt64(configKey_MinOutputBytes)
	if cc.MinOutputBytes < 0 {
		return configError(configKey_MinOutputBytes, "can't be negative")
	}

	switch strings.ToLower(uc.GetString(configKey_WindowEnumeration)) {
	case windowEnumerationNative:
		cc.NativeWindowEnumeration = true
	case default_WindowEnumeration, "":
		cc.NativeWindowEnumeration = false
	default:
		return configError(configKey_WindowEnumeration, "expected %q or %q", default_WindowEnumeration, windowEnumerationNative)
	}

	cc.selectionMutex.Lock()
	defer cc.selectionMutex.Unlock()

	var sel CaptureSelection

	if sel.Mode, err = ParseCaptureMode(cc.selectionValue(configKey_CaptureMode).GetString(configKey_CaptureMode)); err != nil {
		return err
	}
	if sel.Quality, err = ParseQualityPreset(cc.selectionValue(configKey_Quality).GetString(configKey_Quality)); err != nil {
		return err
	}

	sel.MonitorIndex = cc.selectionValue(configKey_MonitorIndex).GetInt(configKey_MonitorIndex)
	sel.WindowTitle = cc.selectionValue(configKey_WindowTitle).GetString(configKey_WindowTitle)
	sel.FrameRate = cc.selectionValue(configKey_FrameRate).GetInt(configKey_FrameRate)
	sel.Audio.System = cc.selectionValue(configKey_AudioSystem).GetString(configKey_AudioSystem)
	sel.Audio.Microphone = cc.selectionValue(configKey_AudioMicrophone).GetString(configKey_AudioMicrophone)

	sel.Area = Rect{
		X:      uc.GetInt(configKey_AreaLeft),
		Y:      uc.GetInt(configKey_AreaTop),
		Width:  uc.GetInt(configKey_AreaWidth),
		Height: uc.GetInt(configKey_AreaHeight),
	}

	if sel.FrameRate <= 0 {
		return configError(configKey_FrameRate, "must be positive, got %d", sel.FrameRate)
	}

	cc.selection = sel

	cc.logger.Debug("Populated config fields from vipers")

	return nil
}

// durationValue accepts either a Go duration string ("5s") or a plain number of seconds
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	var d time.Duration

	switch raw := v.Get(key).(type) {
	case int:
		d = time.Duration(raw) * time.Second
	case int64:
		d = time.Duration(raw) * time.Second
	case float64:
		d = time.Duration(raw * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return 0, configError(key, "%q is not a duration", raw)
		}
		d = parsed
	default:
		return 0, configError(key, "unexpected type %T", raw)
	}

	if d <= 0 {
		return 0, configError(key, "must be positive")
	}

	return d, nil
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cc.logger.Debugw("Config reload channel closed, skipping notification", "recover", r)
				}
			}()
			select {
			case consumer <- true:
			default:
				// consumer is busy, skip
			}
		}()
	}
}
