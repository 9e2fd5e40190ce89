package screenrec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/getlantern/systray"

	"github.com/stalexteam/screenrec/pkg/screenrec/icon"
	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

const (
	appTitle = "Screen Recorder"

	// systray can't remove items, so lists get a fixed number of slots that are hidden when unused
	maxMonitorSlots = 8
	maxWindowSlots  = 20
	maxAudioSlots   = 12
)

var trayFrameRates = []int{15, 24, 30, 60}

var trayQualities = []QualityPreset{QualityLow, QualityMedium, QualityHigh, QualityUltra}

type trayMenu struct {
	status *systray.MenuItem
	toggle *systray.MenuItem

	desktop  *systray.MenuItem
	monitors []*systray.MenuItem
	windows  []*systray.MenuItem
	area     *systray.MenuItem

	systemNone  *systray.MenuItem
	systemAudio []*systray.MenuItem
	micNone     *systray.MenuItem
	micAudio    []*systray.MenuItem

	qualities  []*systray.MenuItem
	frameRates []*systray.MenuItem
}

func (r *Recorder) initializeTray(onDone func()) {
	logger := r.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetIcon(icon.Logo)
		systray.SetTitle(appTitle)
		systray.SetTooltip(appTitle)

		menu := &trayMenu{}

		menu.status = systray.AddMenuItem("Idle", "")
		menu.status.Disable()

		menu.toggle = systray.AddMenuItem("Start recording", "Start or stop recording")

		systray.AddSeparator()

		source := systray.AddMenuItem("Capture source", "What to record")
		menu.desktop = source.AddSubMenuItem("Full desktop", "All monitors")
		menu.monitors = addSlots(source, maxMonitorSlots)
		windowsMenu := source.AddSubMenuItem("Window", "A single window, by title")
		menu.windows = addSlots(windowsMenu, maxWindowSlots)
		menu.area = source.AddSubMenuItem("Custom area (from config)", "The rectangle set in the area section of the config file")

		systemAudio := systray.AddMenuItem("System audio", "What the computer plays")
		menu.systemNone = systemAudio.AddSubMenuItem("None", "")
		menu.systemAudio = addSlots(systemAudio, maxAudioSlots)

		microphone := systray.AddMenuItem("Microphone", "Your voice")
		menu.micNone = microphone.AddSubMenuItem("None", "")
		menu.micAudio = addSlots(microphone, maxAudioSlots)

		quality := systray.AddMenuItem("Quality", "Higher quality means bigger files")
		for _, q := range trayQualities {
			menu.qualities = append(menu.qualities, quality.AddSubMenuItem(q.String(), ""))
		}

		frameRate := systray.AddMenuItem("Frame rate", "")
		for _, fps := range trayFrameRates {
			menu.frameRates = append(menu.frameRates, frameRate.AddSubMenuItem(fmt.Sprintf("%d fps", fps), ""))
		}

		systray.AddSeparator()

		refreshDevices := systray.AddMenuItem("Refresh devices", "Look for monitors, windows and audio devices again")
		openFolder := systray.AddMenuItem("Open recordings folder", "")
		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with notepad")
		diagnostics := systray.AddMenuItem("Run diagnostics", "Check FFmpeg, devices and make a short test recording")

		// Only enable stack trace dump in verbose/debug mode
		var dumpStack *systray.MenuItem
		if r.verbose {
			dumpStack = systray.AddMenuItem("Dump stack trace", "Output all goroutines stack trace to log (for debugging deadlocks)")
		}

		if r.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(r.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop recording and quit")

		r.renderTray(menu)
		r.wireSelectionMenus(menu)

		// wait on things to happen
		go func() {
			stateChanges := r.SubscribeToStateChanges()
			ticks := r.controller.SubscribeToTicks()

			for {
				select {

				// quit
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					r.signalStop()

				case <-menu.toggle.ClickedCh:
					if state := r.controller.Status().State; state == StateRunning {
						logger.Info("Stop menu item clicked")
						go r.StopRecording()
					} else if state != StateStopping {
						logger.Info("Start menu item clicked")
						go r.StartRecording()
					}

				case <-refreshDevices.ClickedCh:
					logger.Info("Refresh devices menu item clicked")
					go r.RefreshDevices(context.Background())

				case <-openFolder.ClickedCh:
					logger.Info("Open folder menu item clicked")

					dir, err := filepath.Abs(r.config.OutputDir)
					if err != nil {
						dir = r.config.OutputDir
					}

					if err := util.EnsureDirExists(dir); err != nil {
						logger.Warnw("Failed to create recordings folder", "error", err)
					} else if err := util.OpenExternal(logger, util.FileBrowser(), dir); err != nil {
						logger.Warnw("Failed to open recordings folder", "error", err)
					}

				// edit config
				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					if err := r.config.EnsureUserConfigFile(); err != nil {
						logger.Warnw("Failed to create config file", "error", err)
						continue
					}

					editor := "notepad.exe"
					if util.Linux() {
						editor = "xdg-open"
						if editorEnv := os.Getenv("EDITOR"); editorEnv != "" {
							editor = editorEnv
						}
					}

					if err := util.OpenExternal(logger, editor, r.config.Filepath()); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				case <-diagnostics.ClickedCh:
					logger.Info("Diagnostics menu item clicked")
					go r.RunDiagnostics(context.Background())

				case elapsed, ok := <-ticks:
					if !ok {
						return
					}

					// a tick racing the end of a recording must not overwrite the final status
					if r.controller.Status().State != StateRunning {
						continue
					}

					text := fmt.Sprintf("Recording %s", util.FormatElapsed(elapsed))
					menu.status.SetTitle(text)
					systray.SetTooltip(fmt.Sprintf("%s - %s", appTitle, text))

				case _, ok := <-stateChanges:
					if !ok {
						return
					}

					r.renderTray(menu)
				}
			}
		}()

		// dump stack trace handler (only in verbose/debug mode)
		if r.verbose && dumpStack != nil {
			go func() {
				for {
					<-dumpStack.ClickedCh
					logger.Info("Dump stack trace menu item clicked, outputting all goroutines stack trace")
					util.DumpAllGoroutines(logger)
				}
			}()
		}

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (r *Recorder) stopTray() {
	r.logger.Debug("Quitting tray")
	systray.Quit()
}

func addSlots(parent *systray.MenuItem, n int) []*systray.MenuItem {
	slots := make([]*systray.MenuItem, n)
	for i := range slots {
		slots[i] = parent.AddSubMenuItem("", "")
		slots[i].Hide()
	}
	return slots
}

// onClick calls handler with the slot index every time one of the items is clicked
func onClick(items []*systray.MenuItem, handler func(int)) {
	for i, item := range items {
		go func(i int, item *systray.MenuItem) {
			for range item.ClickedCh {
				handler(i)
			}
		}(i, item)
	}
}

func (r *Recorder) wireSelectionMenus(menu *trayMenu) {
	onClick([]*systray.MenuItem{menu.desktop}, func(int) {
		r.SelectCapture(func(sel *CaptureSelection) { sel.Mode = FullDesktop })
	})

	onClick(menu.monitors, func(i int) {
		r.SelectCapture(func(sel *CaptureSelection) {
			sel.Mode = Monitor
			sel.MonitorIndex = i
		})
	})

	onClick(menu.windows, func(i int) {
		windows := r.Devices().Windows
		if i >= len(windows) {
			return
		}

		r.SelectCapture(func(sel *CaptureSelection) {
			sel.Mode = Window
			sel.WindowTitle = windows[i].Title
		})
	})

	onClick([]*systray.MenuItem{menu.area}, func(int) {
		r.SelectCapture(func(sel *CaptureSelection) { sel.Mode = CustomArea })
	})

	onClick([]*systray.MenuItem{menu.systemNone}, func(int) {
		r.SelectCapture(func(sel *CaptureSelection) { sel.Audio.System = "" })
	})

	onClick(menu.systemAudio, func(i int) {
		system, _ := ClassifyAudioDevices(r.Devices().AudioDevices)
		if i >= len(system) {
			return
		}

		r.SelectCapture(func(sel *CaptureSelection) { sel.Audio.System = system[i].Name })
	})

	onClick([]*systray.MenuItem{menu.micNone}, func(int) {
		r.SelectCapture(func(sel *CaptureSelection) { sel.Audio.Microphone = "" })
	})

	onClick(menu.micAudio, func(i int) {
		_, microphone := ClassifyAudioDevices(r.Devices().AudioDevices)
		if i >= len(microphone) {
			return
		}

		r.SelectCapture(func(sel *CaptureSelection) { sel.Audio.Microphone = microphone[i].Name })
	})

	onClick(menu.qualities, func(i int) {
		r.SelectCapture(func(sel *CaptureSelection) { sel.Quality = trayQualities[i] })
	})

	onClick(menu.frameRates, func(i int) {
		r.SelectCapture(func(sel *CaptureSelection) { sel.FrameRate = trayFrameRates[i] })
	})
}

// renderTray brings titles, visibility and check marks in line with the current state
func (r *Recorder) renderTray(menu *trayMenu) {
	status := r.controller.Status()
	devices := r.Devices()
	sel := r.config.Selection()

	switch status.State {
	case StateRunning:
		systray.SetIcon(icon.Recording)
		menu.toggle.SetTitle("Stop recording")
		menu.toggle.Enable()
		menu.status.SetTitle(fmt.Sprintf("Recording %s", util.FormatElapsed(status.Elapsed)))

	case StateStopping:
		menu.toggle.Disable()
		menu.status.SetTitle("Finishing recording...")

	default:
		systray.SetIcon(icon.Logo)
		systray.SetTooltip(appTitle)
		menu.toggle.SetTitle("Start recording")
		menu.toggle.Enable()

		switch status.State {
		case StateCompleted:
			menu.status.SetTitle(fmt.Sprintf("Saved %s (%s)", filepath.Base(status.OutputPath), util.FormatSize(status.OutputSize)))
		case StateFailed:
			menu.status.SetTitle("Last recording failed")
		default:
			menu.status.SetTitle("Idle")
		}
	}

	setChecked(menu.desktop, sel.Mode == FullDesktop)
	setChecked(menu.area, sel.Mode == CustomArea)

	monitorTitles := make([]string, len(devices.Monitors))
	for i, m := range devices.Monitors {
		monitorTitles[i] = m.String()
	}
	fillSlots(menu.monitors, monitorTitles, func(i int) bool {
		return sel.Mode == Monitor && sel.MonitorIndex == i
	})

	windowTitles := make([]string, len(devices.Windows))
	for i, w := range devices.Windows {
		windowTitles[i] = w.String()
	}
	fillSlots(menu.windows, windowTitles, func(i int) bool {
		return sel.Mode == Window && devices.Windows[i].Title == sel.WindowTitle
	})

	system, microphone := ClassifyAudioDevices(devices.AudioDevices)

	setChecked(menu.systemNone, sel.Audio.System == "")
	fillSlots(menu.systemAudio, deviceNames(system), func(i int) bool {
		return system[i].Name == sel.Audio.System
	})

	setChecked(menu.micNone, sel.Audio.Microphone == "")
	fillSlots(menu.micAudio, deviceNames(microphone), func(i int) bool {
		return microphone[i].Name == sel.Audio.Microphone
	})

	for i, item := range menu.qualities {
		setChecked(item, trayQualities[i] == sel.Quality)
	}

	for i, item := range menu.frameRates {
		setChecked(item, trayFrameRates[i] == sel.FrameRate)
	}
}

func fillSlots(slots []*systray.MenuItem, titles []string, checked func(int) bool) {
	for i, slot := range slots {
		if i >= len(titles) {
			slot.Hide()
			continue
		}

		slot.SetTitle(titles[i])
		setChecked(slot, checked(i))
		slot.Show()
	}
}

func setChecked(item *systray.MenuItem, checked bool) {
	if checked {
		item.Check()
	} else {
		item.Uncheck()
	}
}

func deviceNames(devices []AudioDevice) []string {
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}
