//go:build !unix

package imapsync

import "os/exec"

func setProcGroup(_ *exec.Cmd) {}

func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
