//go:build !unix

package service

import (
	"os"
	"os/exec"
)

func configure(_ *exec.Cmd) {}

// terminate falls back to kill, there is no portable cooperative signal
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}
