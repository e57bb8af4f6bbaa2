package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Options tunes the fsnotify backend.
type Options struct {
	// SkipDirs lists directory base names that are never watched.
	SkipDirs []string
}

// FSNotify is a Backend built on fsnotify. fsnotify watches single
// directories, so recursive sessions walk the tree at registration and add
// directories as they are created.
type FSNotify struct {
	skip map[string]bool
}

// NewFSNotify creates the default backend.
func NewFSNotify(opts Options) *FSNotify {
	skip := make(map[string]bool, len(opts.SkipDirs))
	for _, name := range opts.SkipDirs {
		skip[name] = true
	}
	return &FSNotify{skip: skip}
}

// Watch registers root. The root must exist; a missing or unreadable root
// fails the registration.
func (b *FSNotify) Watch(root string, recursive bool, h Handler) (Session, error) {
	if h == nil {
		return nil, errors.New("watch handler is required")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	s := &fsSession{
		watcher:   watcher,
		handler:   h,
		recursive: recursive && info.IsDir(),
		skip:      b.skip,
		done:      make(chan struct{}),
	}

	if s.recursive {
		err = s.addTree(root, true)
	} else {
		err = watcher.Add(root)
	}
	if err != nil {
		watcher.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

type fsSession struct {
	watcher   *fsnotify.Watcher
	handler   Handler
	recursive bool
	skip      map[string]bool

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Close must not be called from inside the session's handler.
func (s *fsSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *fsSession) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && !s.closed.Load() {
				s.handler(RawEvent{}, err)
			}
		}
	}
}

func (s *fsSession) handleEvent(event fsnotify.Event) {
	if s.closed.Load() {
		return
	}

	raw := translate(event)

	// New directories join the watch before their own notification goes out
	// so that files created in them right away are not missed.
	if s.recursive && raw.Kind == KindCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !s.skip[info.Name()] {
			if err := s.addTree(event.Name, false); err != nil {
				s.handler(RawEvent{}, err)
			}
		}
	}

	s.handler(raw, nil)
}

// addTree watches dir and every directory beneath it. Errors on the root are
// returned when strict; errors deeper in the tree are reported to the
// handler and that subtree is skipped.
func (s *fsSession) addTree(dir string, strict bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && strict {
				return err
			}
			s.handler(RawEvent{}, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && s.skip[d.Name()] {
			return filepath.SkipDir
		}
		if err := s.watcher.Add(path); err != nil {
			if path == dir && strict {
				return err
			}
			s.handler(RawEvent{}, fmt.Errorf("failed to watch %s: %w", path, err))
			return filepath.SkipDir
		}
		return nil
	})
}

func translate(event fsnotify.Event) RawEvent {
	raw := RawEvent{Paths: []string{event.Name}}
	if event.Name == "" {
		raw.Paths = nil
	}

	switch {
	case event.Has(fsnotify.Create):
		raw.Kind, raw.Op = KindCreate, "create"
	case event.Has(fsnotify.Remove):
		raw.Kind, raw.Op = KindRemove, "remove"
	case event.Has(fsnotify.Write):
		raw.Kind, raw.Op = KindModify, "write"
	case event.Has(fsnotify.Rename):
		raw.Kind, raw.Op = KindModify, "rename"
	case event.Has(fsnotify.Chmod):
		raw.Kind, raw.Op = KindModify, "chmod"
	default:
		raw.Kind = KindOther
	}
	return raw
}
