package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// IrconfDirs is the device-definition search path: current directory,
// "$HOME/.irconf.d", then "/etc/irconf.d".
func IrconfDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs, filepath.Join(home, ".irconf.d"))
	}
	return append(dirs, "/etc/irconf.d")
}

// Reloader is the subset of ircodec.Store's surface the watcher drives.
type Reloader interface {
	Reload(dirs []string) error
}

// WatchIrconf watches every existing directory in dirs for ircodec.Suffix
// file changes and calls store.Reload(dirs) on each one, so editing a
// device definition on disk takes effect without a restart or an
// explicit "irsend @load" command. The returned fsnotify.Watcher must be
// closed by the caller when done.
func WatchIrconf(dirs []string, suffix string, store Reloader) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			continue
		}
		if err := w.Add(d); err != nil {
			log.Printf("config: watch %s: %v", d, err)
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, suffix) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				log.Printf("config: %s changed, reloading device definitions", ev.Name)
				if err := store.Reload(dirs); err != nil {
					log.Printf("config: reload after %s: %v", ev.Name, err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", err)
			}
		}
	}()

	return w, nil
}
