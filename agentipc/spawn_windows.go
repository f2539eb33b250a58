//go:build windows

package agentipc

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// spawnServer spawns the server executable in a new process group
// (CREATE_NEW_PROCESS_GROUP) so the shell's Ctrl-C does not reach it.
func spawnServer(cfg AutostartConfig) error {
	cmd := exec.Command(cfg.ServerPath, cfg.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	cmd.Stdin = nil

	if cfg.LogPath != "" {
		logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return errors.Wrapf(err, "agentipc: opening server log %s", cfg.LogPath)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "agentipc: starting server process")
	}
	go cmd.Wait()
	return nil
}
