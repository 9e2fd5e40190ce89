package util

import (
	"os/exec"
)

// HideConsole is a no-op on Linux
func HideConsole(cmd *exec.Cmd) {}

// FileBrowser is the program used to reveal a directory to the user
func FileBrowser() string {
	return "xdg-open"
}
