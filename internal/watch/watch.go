// Package watch fans out filesystem change notifications for one domain
// directory to per-flow subscribers, serving as the cross-process wake
// fallback for discrete/continuous ring readers and the
// descriptor-file-removal detector for flow.Reader (spec §4.4 edge
// cases, §4.7 case (b)).
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Event is a simplified filesystem notification scoped to one flow.
type Event struct {
	FlowID string
	Name   string
	Write  bool
	Remove bool
}

// Watcher watches a single domain directory and dispatches events to
// per-flow subscriber channels.
type Watcher struct {
	log    *slog.Logger
	fsw    *fsnotify.Watcher
	domain string

	mu   sync.RWMutex
	subs map[string][]chan<- Event
}

// New creates a Watcher rooted at domain. Call Run to start its dispatch
// loop under an errgroup.Group.
func New(domain string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(domain); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		log:    log.With("component", "watch"),
		fsw:    fsw,
		domain: domain,
		subs:   make(map[string][]chan<- Event),
	}, nil
}

// WatchFlow adds the flow's directory to the watch set so its data and
// descriptor.json files are observed.
func (w *Watcher) WatchFlow(flowID string) error {
	return w.fsw.Add(filepath.Join(w.domain, flowID))
}

// Subscribe registers ch to receive events for flowID. The returned
// function unsubscribes it.
func (w *Watcher) Subscribe(flowID string, ch chan<- Event) func() {
	w.mu.Lock()
	w.subs[flowID] = append(w.subs[flowID], ch)
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		list := w.subs[flowID]
		for i, c := range list {
			if c == ch {
				w.subs[flowID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Run drives the fsnotify dispatch loop under g, the same pattern
// cmd/prism/main.go uses to tie goroutine lifetimes to an
// errgroup.WithContext. It returns when ctx is canceled or the
// underlying watcher closes.
func (w *Watcher) Run(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		defer w.fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return nil
				}
				w.dispatch(ev)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return nil
				}
				w.log.Warn("fsnotify error", "error", err)
			}
		}
	})
}

func (w *Watcher) dispatch(ev fsnotify.Event) {
	flowID := filepath.Base(filepath.Dir(ev.Name))

	out := Event{
		FlowID: flowID,
		Name:   ev.Name,
		Write:  ev.Has(fsnotify.Write),
		Remove: ev.Has(fsnotify.Remove),
	}

	w.mu.RLock()
	subs := append([]chan<- Event(nil), w.subs[flowID]...)
	w.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- out:
		default:
			// Subscriber not ready; it will fall back to its own backoff
			// poll, so dropping a wake here cannot cause a lost update.
		}
	}
}
