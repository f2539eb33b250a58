// The corevaultd binary is the background process a shell client talks
// to over the local agent-IPC socket (spec.md §4.I, §5): it owns the
// engine goroutine, the node cache, and the transport, and exposes them
// to interactive commands the same way the original's server process
// exposes MegaClient to megacmd's shell.
//
// Grounded on the teacher's server/camlistored and cmd/pk "main" wiring:
// flag-parsed config and a signal handler that drains in-flight work
// before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meganz/corevault/agentipc"
	"github.com/meganz/corevault/engine"
	"github.com/meganz/corevault/internal/corelog"
	"github.com/meganz/corevault/node"
	"github.com/meganz/corevault/nodecache"
	"github.com/meganz/corevault/throttle"
	"github.com/meganz/corevault/transport"
)

var (
	flagAPIURL      = flag.String("apiurl", "https://g.api.mega.co.nz/cs", "command-batch endpoint")
	flagActionURL   = flag.String("actionpacketurl", "https://g.api.mega.co.nz/sc", "initial action-packet long-poll endpoint")
	flagAccountName = flag.String("account", "default", "account name, used in the state-cache file name")
	flagStateDir    = flag.String("statedir", "", "directory holding the state-cache file (defaults to $HOME/.corevault)")
	flagWAL         = flag.Bool("wal", true, "use WAL journal mode for the state cache (disable on filesystems that can't fsync -wal/-shm, e.g. iOS)")
)

// stateCachePath builds megaclient_statecache<V>_<name>.db (spec.md §6)
// under dir, defaulting dir to $HOME/.corevault.
func stateCachePath(dir, name string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".corevault")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	fileName := fmt.Sprintf("megaclient_statecache%d_%s.db", nodecache.SchemaVersion, name)
	return filepath.Join(dir, fileName), nil
}

func main() {
	flag.Parse()

	statePath, err := stateCachePath(*flagStateDir, *flagAccountName)
	if err != nil {
		corelog.Errorf("corevaultd: resolving state-cache path: %v", err)
		os.Exit(1)
	}
	store, err := nodecache.Open(statePath, *flagWAL)
	if err != nil {
		corelog.Errorf("corevaultd: opening state cache %s: %v", statePath, err)
		os.Exit(1)
	}
	defer store.Close()

	eng := engine.New(engine.Config{
		APIURL:          *flagAPIURL,
		ActionPacketURL: *flagActionURL,
		Transport:       transport.NewHTTPTransport(http.DefaultTransport),
		Store:           store,
		OnUploadReady: func(upload *throttle.Upload, vo throttle.VersioningOption, queueFirst bool, ovHandle node.Handle) {
			corelog.Infof("corevaultd: releasing delayed upload %s for send", upload.FileIdentity)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	eng.Init(ctx)

	ctrl, newData, err := newControlListener()
	if err != nil {
		corelog.Errorf("corevaultd: binding agent-IPC control socket: %v", err)
		os.Exit(1)
	}
	srv := agentipc.NewServer(ctrl, newData, newCommandHandler(eng))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()
	corelog.Infof("corevaultd: listening for agent-IPC commands")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		corelog.Infof("corevaultd: received %v, shutting down", sig)
	case err := <-serveErr:
		corelog.Errorf("corevaultd: agent-IPC listener stopped: %v", err)
	}

	ctrl.Close()
	cancel()

	done := make(chan struct{})
	go func() { eng.Shutdown(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		corelog.Warnf("corevaultd: engine did not shut down within 5s, exiting anyway")
	}
}
