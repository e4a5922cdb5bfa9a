//go:build windows

package proc

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func isExecutable(info os.FileInfo) bool {
	return strings.EqualFold(filepath.Ext(info.Name()), ".exe")
}
