//go:build unix

package imapsync

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so killTree can
// reach grandchildren (the docker client, perl workers).
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
