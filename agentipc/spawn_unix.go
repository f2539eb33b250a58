//go:build !windows

package agentipc

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// spawnServer forks the server executable detached into its own
// session (Setsid), matching the original's fork()+execvp() path where
// the forked server calls signal(SIGINT, SIG_IGN) so Ctrl-C in the
// shell never reaches it. Setsid achieves the same isolation without
// needing the server binary itself to disable its own signal handler.
func spawnServer(cfg AutostartConfig) error {
	cmd := exec.Command(cfg.ServerPath, cfg.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
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
	// The shell does not wait on the server; it outlives this call.
	go cmd.Wait()
	return nil
}
