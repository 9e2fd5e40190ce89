package util

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// HideConsole keeps spawned console tools (ffmpeg, powershell) from flashing a window
func HideConsole(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// FileBrowser is the program used to reveal a directory to the user
func FileBrowser() string {
	return "explorer.exe"
}
