package screenrec

import (
	"os"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec/icon"
	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications for Windows
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new ToastNotifier
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a toast notification (or falls back to other types of notification for older Windows versions)
func (tn *ToastNotifier) Notify(title string, message string) {

	// we should only be doing this once, but we can't do it any other way because we're not sure the icon is written
	appIconPath := filepath.Join(os.TempDir(), "screenrec.ico")

	if !util.FileExists(appIconPath) {
		tn.logger.Debugw("Screenrec icon file missing, creating", "path", appIconPath)

		if err := os.WriteFile(appIconPath, icon.Logo, 0o644); err != nil {
			tn.logger.Errorw("Failed to write toast notification icon", "error", err)
		}
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	// send the actual notification
	if err := beeep.Notify(title, message, appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}

// LogNotifier writes notifications to the log, for runs without a desktop session
type LogNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Notify logs the notification
func (ln *LogNotifier) Notify(title string, message string) {
	ln.logger.Infow(title, "message", message)
}
