package config

import (
	"crypto/tls"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ha1tch/gotds/pkg/log"
	"github.com/ha1tch/gotds/pkg/tlsutil"
)

// TrustWatcher hot-reloads a custom CA trust bundle into a shared
// *tls.Config's RootCAs whenever the file on disk changes, so connections
// a pool dials after a reload verify against the new bundle without a
// process restart (connections already dialed were verified at their own
// handshake and are not re-checked). Debounces bursts of write events (editors typically
// emit several for one save) the same way a procedure-file watcher
// would, just scoped to a single file instead of a directory tree.
type TrustWatcher struct {
	mu        sync.Mutex
	path      string
	tlsConfig *tls.Config
	logger    *log.Logger

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}

	debounce time.Duration
	timer    *time.Timer
}

// WatchTrustFile starts watching trustFile and reloading it into
// tlsConfig.RootCAs on every write. Call Stop to release the watch.
func WatchTrustFile(trustFile string, tlsConfig *tls.Config, logger *log.Logger) (*TrustWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(trustFile)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &TrustWatcher{
		path:      trustFile,
		tlsConfig: tlsConfig,
		logger:    logger,
		fsWatcher: fsw,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		debounce:  200 * time.Millisecond,
	}

	go w.run()
	return w, nil
}

func (w *TrustWatcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			if w.timer != nil {
				w.timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Connection().Warn("trust file watcher error", "err", err.Error())
			}
		}
	}
}

func (w *TrustWatcher) reload() {
	if err := tlsutil.ReplaceRootCAs(w.tlsConfig, w.path); err != nil {
		if w.logger != nil {
			w.logger.Connection().Error("failed to reload trust bundle", err, "path", w.path)
		}
		return
	}
	if w.logger != nil {
		w.logger.Connection().Info("reloaded TLS trust bundle", "path", w.path)
	}
}

// Stop releases the underlying fsnotify watch.
func (w *TrustWatcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsWatcher.Close()
}
