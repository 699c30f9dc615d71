//go:build windows

package execx

import (
	"os/exec"
	"syscall"
)

// terminate kills the process. Windows has no portable graceful signal
// for console-less children; WaitDelay still bounds the wait.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// hideWindow suppresses the console window that would otherwise flash
// for every CLI invocation.
func hideWindow(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= 0x08000000 // CREATE_NO_WINDOW
}
