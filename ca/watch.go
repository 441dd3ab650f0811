package ca

import (
	"os"

	"github.com/fsnotify/fsnotify"
	E "github.com/sagernet/sing/common/exceptions"
)

func (a *Authority) startWatcher(directory string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = watcher.Add(directory)
	if err != nil {
		watcher.Close()
		return err
	}
	a.watcher = watcher
	go a.loopUpdate()
	return nil
}

func (a *Authority) loopUpdate() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Name != a.keyPath && event.Name != a.certificatePath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			err := a.reloadRoot()
			if err != nil {
				a.logger.Error(E.Cause(err, "reload root certificate"))
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Error(E.Cause(err, "fsnotify error"))
		}
	}
}

// reloadRoot swaps in the root found on disk and flushes issued leaves.
// A half written pair fails to parse and leaves the current root in place.
func (a *Authority) reloadRoot() error {
	keyContent, err := os.ReadFile(a.keyPath)
	if err != nil {
		return &IOError{Op: "read", Path: a.keyPath, Cause: err}
	}
	certificateContent, err := os.ReadFile(a.certificatePath)
	if err != nil {
		return &IOError{Op: "read", Path: a.certificatePath, Cause: err}
	}
	root, err := parseRoot(a.keyPath, keyContent, a.certificatePath, certificateContent)
	if err != nil {
		return err
	}
	current := a.root.Load()
	if current != nil && current.certificate.Equal(root.certificate) {
		return nil
	}
	a.root.Store(root)
	a.cache.Clear()
	a.logger.Info("reloaded root certificate")
	return nil
}
