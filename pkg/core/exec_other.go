//go:build !unix

package core

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
