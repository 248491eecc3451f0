// Package flow exposes the public opaque writer/reader handles of spec
// §4.6/§4.7, dispatching to the discrete or continuous ring underneath
// depending on the flow's descriptor kind.
package flow

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mlefebvre1/mxl/descriptor"
	"github.com/mlefebvre1/mxl/flowid"
	"github.com/mlefebvre1/mxl/internal/continuousring"
	"github.com/mlefebvre1/mxl/internal/discretering"
	"github.com/mlefebvre1/mxl/internal/liveness"
	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/internal/watch"
	"github.com/mlefebvre1/mxl/mxlerrors"
)

// Writer is bound to one flow for the duration of its attachment. A
// second attempt to attach a writer to the same flow returns
// mxlerrors.ErrWriterBusy (spec §4.6).
type Writer struct {
	id       flowid.FlowId
	kind     descriptor.FlowKind
	seg      *segment.Segment
	discrete *discretering.Ring
	cont     *continuousring.Ring
	liveness *liveness.Handle
}

// NewWriter attaches a writer to an already-created flow segment.
func NewWriter(id flowid.FlowId, kind descriptor.FlowKind, seg *segment.Segment, discrete *discretering.Ring, cont *continuousring.Ring) (*Writer, error) {
	h, err := liveness.Acquire(seg.Dir(), seg.Header)
	if err != nil {
		return nil, err
	}
	return &Writer{id: id, kind: kind, seg: seg, discrete: discrete, cont: cont, liveness: h}, nil
}

// OpenGrain implements spec §4.6 for discrete flows.
func (w *Writer) OpenGrain(index uint64) ([]byte, error) {
	if w.discrete == nil {
		return nil, mxlerrors.ErrInvalidArg
	}
	return w.discrete.Open(index), nil
}

// CommitGrain implements spec §4.6 for discrete flows.
func (w *Writer) CommitGrain(index uint64, validSlices uint32, flags discretering.SlotFlags) error {
	if w.discrete == nil {
		return mxlerrors.ErrInvalidArg
	}
	return w.discrete.Commit(index, validSlices, flags)
}

// OpenSamples implements spec §4.6 for continuous flows.
func (w *Writer) OpenSamples(lastIndex uint64, count int) ([]continuousring.Slice, error) {
	if w.cont == nil {
		return nil, mxlerrors.ErrInvalidArg
	}
	return w.cont.OpenWrite(lastIndex, count)
}

// CommitSamples implements spec §4.6 for continuous flows.
func (w *Writer) CommitSamples(lastIndex uint64) error {
	if w.cont == nil {
		return mxlerrors.ErrInvalidArg
	}
	w.cont.Commit(lastIndex)
	return nil
}

// Close releases the writer's liveness lock and unmaps its private view
// of the segment (spec §4.6 "Releasing the writer").
func (w *Writer) Close() error {
	err := w.liveness.Release()
	if cerr := w.seg.Close(); err == nil {
		err = cerr
	}
	return err
}

// Reader is bound to one flow. It never mutates payload; every
// successful read may update lastReadTime (spec §4.7).
type Reader struct {
	id         flowid.FlowId
	kind       descriptor.FlowKind
	seg        *segment.Segment
	discrete   *discretering.Ring
	cont       *continuousring.Ring
	generation uint64

	removed   atomic.Bool
	watchCh   chan watch.Event
	watchDone chan struct{}
	unsub     func()
}

// NewReader attaches a reader, capturing the flow's current generation
// so a later recreate-with-same-id is detected on the next call (spec
// §4.7 case (c)).
func NewReader(id flowid.FlowId, kind descriptor.FlowKind, seg *segment.Segment, discrete *discretering.Ring, cont *continuousring.Ring) *Reader {
	return &Reader{
		id:         id,
		kind:       kind,
		seg:        seg,
		discrete:   discrete,
		cont:       cont,
		generation: seg.Header.Generation.Load(),
	}
}

// NewReaderWithWatch attaches a reader the same way NewReader does, and
// additionally subscribes it to w's fsnotify fan-out for this flow so it
// can notice its descriptor.json being removed out from under it (spec
// §4.7 case (b)) and wake an in-progress discrete Get as soon as a
// writer's commit is observed through the filesystem instead of directly
// (spec §4.4 edge case, cross-process wake fallback). w may be nil, in
// which case this behaves exactly like NewReader.
func NewReaderWithWatch(id flowid.FlowId, kind descriptor.FlowKind, seg *segment.Segment, discrete *discretering.Ring, cont *continuousring.Ring, w *watch.Watcher) *Reader {
	r := NewReader(id, kind, seg, discrete, cont)
	if w == nil {
		return r
	}
	r.watchCh = make(chan watch.Event, 8)
	r.watchDone = make(chan struct{})
	r.unsub = w.Subscribe(id.String(), r.watchCh)
	go r.watchLoop()
	return r
}

func (r *Reader) watchLoop() {
	for {
		select {
		case ev := <-r.watchCh:
			if ev.Remove && filepath.Base(ev.Name) == "descriptor.json" {
				r.removed.Store(true)
			}
			if ev.Write && r.discrete != nil {
				r.discrete.Notify()
			}
		case <-r.watchDone:
			return
		}
	}
}

func (r *Reader) checkGeneration() error {
	if r.removed.Load() {
		return mxlerrors.ErrFlowInvalid
	}
	if r.seg.Header.Generation.Load() != r.generation {
		return mxlerrors.ErrFlowInvalid
	}
	if !r.seg.Header.Valid.Load() {
		return mxlerrors.ErrFlowInvalid
	}
	return nil
}

// GetGrain implements spec §4.7 for discrete flows.
func (r *Reader) GetGrain(index uint64, timeout time.Duration) (discretering.SlotView, error) {
	if r.discrete == nil {
		return discretering.SlotView{}, mxlerrors.ErrInvalidArg
	}
	if err := r.checkGeneration(); err != nil {
		return discretering.SlotView{}, err
	}
	return r.discrete.Get(index, timeout)
}

// GetSamples implements spec §4.7 for continuous flows.
func (r *Reader) GetSamples(lastIndex uint64, count int, timeout time.Duration) ([]continuousring.Slice, error) {
	if r.cont == nil {
		return nil, mxlerrors.ErrInvalidArg
	}
	if err := r.checkGeneration(); err != nil {
		return nil, err
	}
	return r.cont.GetSamples(lastIndex, count, timeout)
}

// Close unmaps the reader's private view of the segment and, if it was
// attached via NewReaderWithWatch, unsubscribes from the watch fan-out.
// Readers hold no liveness state.
func (r *Reader) Close() error {
	if r.unsub != nil {
		r.unsub()
		close(r.watchDone)
	}
	return r.seg.Close()
}
