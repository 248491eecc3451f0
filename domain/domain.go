// Package domain implements the process-wide domain manager of spec
// §4.8: a handle bound to one domain directory that creates, opens, and
// destroys flows and reports their liveness.
package domain

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlefebvre1/mxl/descriptor"
	"github.com/mlefebvre1/mxl/flow"
	"github.com/mlefebvre1/mxl/flowid"
	"github.com/mlefebvre1/mxl/internal/attach"
	"github.com/mlefebvre1/mxl/internal/continuousring"
	"github.com/mlefebvre1/mxl/internal/discretering"
	"github.com/mlefebvre1/mxl/internal/liveness"
	"github.com/mlefebvre1/mxl/internal/segment"
	"github.com/mlefebvre1/mxl/internal/watch"
	"github.com/mlefebvre1/mxl/mxlerrors"
	"github.com/mlefebvre1/mxl/rational"
)

const defaultHistoryDuration = time.Second // spec §3 invariant I4

// Options configures a domain instance at creation.
type Options struct {
	HistoryDuration time.Duration
}

// FlowOptions configures an individual flow at creation. Currently empty;
// reserved so CreateFlow's signature does not need to change if
// per-flow overrides are added later.
type FlowOptions struct{}

// flowEntry is the registry's per-flow bookkeeping: the domain's own
// mapping plus the geometry needed to build an independent mapping for
// each attaching reader/writer (ringGeometry).
type flowEntry struct {
	id       flowid.FlowId
	kind     descriptor.FlowKind
	seg      *segment.Segment
	discrete *discretering.Ring
	cont     *continuousring.Ring
	geom     ringGeometry
}

// ringGeometry is the subset of a flow's layout that does not depend on
// any particular mapping, so a fresh Ring can be reconstructed over any
// process's own mmap of the same file (spec §6: cooperating processes
// each map the segment independently).
type ringGeometry struct {
	discreteCapacity    uint64
	discreteTotalSlices uint32
	discreteGrainSize   uint32
	discreteRate        rational.Rational

	contChannelCount uint32
	contBufferLength uint64
	contSampleBytes  uint32
	contRate         rational.Rational
}

func (g ringGeometry) buildRing(kind descriptor.FlowKind, header *segment.Header, body []byte) (*discretering.Ring, *continuousring.Ring) {
	if kind == descriptor.KindAudio {
		return nil, continuousring.New(header, body, g.contChannelCount, g.contBufferLength, g.contSampleBytes, g.contRate, nil)
	}
	return discretering.New(header, body, g.discreteCapacity, g.discreteTotalSlices, g.discreteGrainSize, g.discreteRate, nil), nil
}

// Instance is a process-wide handle bound to a domain directory (spec
// §4.8).
type Instance struct {
	log     *slog.Logger
	dir     string
	opts    Options
	mgr     *segment.Manager
	watch   *watch.Watcher
	writers *attach.Registry // in-process fast path ahead of liveness's flock
	g       *errgroup.Group
	cancel  context.CancelFunc

	mu    sync.RWMutex
	flows map[flowid.FlowId]*flowEntry
}

// CreateInstance opens or creates the domain directory dir and starts its
// watch dispatcher (spec §4.8 createInstance).
func CreateInstance(dir string, opts Options, log *slog.Logger) (*Instance, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.HistoryDuration <= 0 {
		opts.HistoryDuration = defaultHistoryDuration
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		if os.IsPermission(err) {
			return nil, mxlerrors.Wrap(mxlerrors.PermissionDenied, "domain directory not writable", err)
		}
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "create domain directory", err)
	}

	w, err := watch.New(dir, log)
	if err != nil {
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "start domain watcher", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	w.Run(gctx, g)

	inst := &Instance{
		log:     log.With("component", "domain"),
		dir:     dir,
		opts:    opts,
		mgr:     segment.NewManager(dir),
		watch:   w,
		writers: attach.NewRegistry(log),
		g:       g,
		cancel:  cancel,
		flows:   make(map[flowid.FlowId]*flowEntry),
	}
	inst.log.Info("domain instance created", "dir", dir)
	return inst, nil
}

// CreateFlow validates desc, materializes its segment under the domain
// directory, and registers it (spec §4.8 createFlow).
func (inst *Instance) CreateFlow(raw []byte, desc descriptor.FlowDescriptor, opts FlowOptions) (*segment.Segment, error) {
	geom, err := desc.Geometry()
	if err != nil {
		return nil, err
	}

	id := desc.Common().ID
	format := segment.FormatFromKind(desc.Kind())

	var entry *flowEntry
	switch desc.Kind() {
	case descriptor.KindVideo, descriptor.KindData:
		rate := grainRateOf(desc)
		capacity := slotCountForHistory(inst.opts.HistoryDuration, rate)
		bodySize := int64(capacity) * int64(discretering.Stride(geom.GrainSize))
		seg, err := inst.mgr.Create(id, format, raw, geom, bodySize)
		if err != nil {
			return nil, err
		}
		seg.Header.Discrete().GrainRateNum = rate.Numerator
		seg.Header.Discrete().GrainRateDen = rate.Denominator
		if err := segment.SetSyncBatchHint(seg.Header, geom.TotalSlices); err != nil {
			seg.Close()
			return nil, err
		}
		ring := discretering.New(seg.Header, seg.Body, capacity, geom.TotalSlices, geom.GrainSize, rate, nil)
		rg := ringGeometry{discreteCapacity: capacity, discreteTotalSlices: geom.TotalSlices, discreteGrainSize: geom.GrainSize, discreteRate: rate}
		entry = &flowEntry{id: id, kind: desc.Kind(), seg: seg, discrete: ring, geom: rg}
	case descriptor.KindAudio:
		a := desc.(*descriptor.AudioFlow)
		bufferLength := uint64(a.BufferLength(inst.opts.HistoryDuration.Nanoseconds()))
		bodySize := int64(bufferLength) * int64(a.ChannelCount) * int64(geom.SampleBytes)
		seg, err := inst.mgr.Create(id, format, raw, geom, bodySize)
		if err != nil {
			return nil, err
		}
		cu := seg.Header.Continuous()
		rate := a.SampleRate.Rational()
		cu.SampleRateNum = rate.Numerator
		cu.SampleRateDen = rate.Denominator
		cu.ChannelCount = a.ChannelCount
		cu.BufferLength = bufferLength
		ring := continuousring.New(seg.Header, seg.Body, a.ChannelCount, bufferLength, geom.SampleBytes, rate, nil)
		rg := ringGeometry{contChannelCount: a.ChannelCount, contBufferLength: bufferLength, contSampleBytes: geom.SampleBytes, contRate: rate}
		entry = &flowEntry{id: id, kind: desc.Kind(), seg: seg, cont: ring, geom: rg}
	default:
		return nil, mxlerrors.ErrUnsupportedMediaType
	}

	inst.mu.Lock()
	inst.flows[id] = entry
	inst.mu.Unlock()
	inst.watch.WatchFlow(id.String())

	inst.log.Info("flow created", "id", id.String(), "kind", desc.Kind().String())
	return entry.seg, nil
}

// DestroyFlow marks the flow invalid, then unlinks its files (spec §4.8
// destroyFlow; P3: a second call for the same id returns FlowNotFound).
func (inst *Instance) DestroyFlow(id flowid.FlowId) error {
	inst.mu.Lock()
	entry, ok := inst.flows[id]
	if ok {
		delete(inst.flows, id)
	}
	inst.mu.Unlock()

	if ok {
		entry.seg.Header.Valid.Store(false)
		entry.seg.Close()
	}

	if err := inst.mgr.Destroy(id); err != nil {
		return err
	}
	inst.log.Info("flow removed", "id", id.String())
	return nil
}

// IsFlowActive reports whether a writer is currently attached to id
// (spec §4.8 isFlowActive, property P7).
func (inst *Instance) IsFlowActive(id flowid.FlowId) (bool, error) {
	entry, err := inst.resolveEntry(id)
	if err != nil {
		return false, err
	}
	return liveness.IsActive(entry.seg.Dir(), entry.seg.Header)
}

// GetFlowDef implements spec §4.8 getFlowDef's buffer-too-small contract:
// if buf is too small to hold the descriptor, it returns INVALID_ARG and
// the required size.
func (inst *Instance) GetFlowDef(id flowid.FlowId, buf []byte) (n int, required int, err error) {
	raw, err := segment.ReadDescriptor(inst.dir, id)
	if err != nil {
		return 0, 0, err
	}
	if len(buf) < len(raw) {
		return 0, len(raw), mxlerrors.ErrInvalidArg
	}
	return copy(buf, raw), len(raw), nil
}

// mapForAttach opens id's segment through a mapping independent of the
// domain's own (entry.seg), and rebuilds a ring over it from the stored
// geometry. This is what lets a destroy/recreate cycle unmap only the
// domain's bookkeeping copy while a previously attached reader or writer,
// mapped separately, keeps observing consistent memory until it notices
// the generation change (spec §4.7 case (c), §6).
func (inst *Instance) mapForAttach(id flowid.FlowId) (descriptor.FlowKind, *segment.Segment, *discretering.Ring, *continuousring.Ring, error) {
	entry, err := inst.resolveEntry(id)
	if err != nil {
		return descriptor.KindUnknown, nil, nil, nil, err
	}

	seg, err := inst.mgr.Open(id)
	if err != nil {
		return descriptor.KindUnknown, nil, nil, nil, err
	}
	discrete, cont := entry.geom.buildRing(entry.kind, seg.Header, seg.Body)
	return entry.kind, seg, discrete, cont, nil
}

// resolveEntry looks up id in the in-process registry, falling back to
// reconstructing it from the flow's persisted descriptor.json when this
// Instance did not itself call CreateFlow for id. Every mxl-domain
// invocation opens a fresh Instance over the same domain directory (spec
// §1's producer/consumer split), so a flow created by a different process
// must still resolve here instead of spuriously reporting FlowNotFound.
func (inst *Instance) resolveEntry(id flowid.FlowId) (*flowEntry, error) {
	inst.mu.RLock()
	entry, ok := inst.flows[id]
	inst.mu.RUnlock()
	if ok {
		return entry, nil
	}

	loaded, err := inst.loadFlowEntry(id)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	if existing, ok := inst.flows[id]; ok {
		inst.mu.Unlock()
		loaded.seg.Close()
		return existing, nil
	}
	inst.flows[id] = loaded
	inst.mu.Unlock()
	return loaded, nil
}

// loadFlowEntry reopens an existing flow's segment and rederives its
// ringGeometry from the descriptor.json materialized by whichever process
// created it, mirroring the same geometry computation CreateFlow performs
// so a flow looks identical regardless of which Instance attaches to it.
func (inst *Instance) loadFlowEntry(id flowid.FlowId) (*flowEntry, error) {
	raw, err := segment.ReadDescriptor(inst.dir, id)
	if err != nil {
		return nil, err
	}
	desc, err := descriptor.Parse(raw)
	if err != nil {
		return nil, mxlerrors.Wrap(mxlerrors.FlowInvalid, "stored descriptor no longer parses", err)
	}
	geom, err := desc.Geometry()
	if err != nil {
		return nil, err
	}

	seg, err := inst.mgr.Open(id)
	if err != nil {
		return nil, err
	}

	var rg ringGeometry
	switch desc.Kind() {
	case descriptor.KindVideo, descriptor.KindData:
		rate := grainRateOf(desc)
		capacity := slotCountForHistory(inst.opts.HistoryDuration, rate)
		rg = ringGeometry{discreteCapacity: capacity, discreteTotalSlices: geom.TotalSlices, discreteGrainSize: geom.GrainSize, discreteRate: rate}
	case descriptor.KindAudio:
		a := desc.(*descriptor.AudioFlow)
		bufferLength := uint64(a.BufferLength(inst.opts.HistoryDuration.Nanoseconds()))
		rg = ringGeometry{contChannelCount: a.ChannelCount, contBufferLength: bufferLength, contSampleBytes: geom.SampleBytes, contRate: a.SampleRate.Rational()}
	default:
		seg.Close()
		return nil, mxlerrors.ErrUnsupportedMediaType
	}

	inst.watch.WatchFlow(id.String())

	discrete, cont := rg.buildRing(desc.Kind(), seg.Header, seg.Body)
	return &flowEntry{id: id, kind: desc.Kind(), seg: seg, discrete: discrete, cont: cont, geom: rg}, nil
}

// Writer wraps a flow.Writer so Close also releases this instance's
// in-process attachment reservation.
type Writer struct {
	*flow.Writer
	inst *Instance
	id   flowid.FlowId
}

// Close releases the writer's flock and its in-process reservation.
func (w *Writer) Close() error {
	w.inst.writers.Release(w.id.String())
	return w.Writer.Close()
}

// OpenWriter attaches a writer to flow id through its own mapping of the
// segment (spec §4.6 createWriter). A second attach attempt for the same
// id within this process is rejected immediately by the in-process
// registry, without needing to touch the flow's flock (spec §4.6, P7).
func (inst *Instance) OpenWriter(id flowid.FlowId) (*Writer, error) {
	if _, ok := inst.writers.Acquire(id.String()); !ok {
		return nil, mxlerrors.ErrWriterBusy
	}

	kind, seg, discrete, cont, err := inst.mapForAttach(id)
	if err != nil {
		inst.writers.Release(id.String())
		return nil, err
	}
	w, err := flow.NewWriter(id, kind, seg, discrete, cont)
	if err != nil {
		seg.Close()
		inst.writers.Release(id.String())
		return nil, err
	}
	return &Writer{Writer: w, inst: inst, id: id}, nil
}

// OpenReader attaches a reader to flow id through its own mapping of the
// segment (spec §4.7 createReader), subscribing it to the domain's watch
// dispatcher for descriptor-removal detection and cross-process wakeups.
func (inst *Instance) OpenReader(id flowid.FlowId) (*flow.Reader, error) {
	kind, seg, discrete, cont, err := inst.mapForAttach(id)
	if err != nil {
		return nil, err
	}
	return flow.NewReaderWithWatch(id, kind, seg, discrete, cont, inst.watch), nil
}

// DestroyInstance closes the instance's own mapping of every registered
// flow and stops the watch dispatcher (spec §4.8 destroyInstance).
// Readers and writers returned by OpenReader/OpenWriter hold their own
// mappings and liveness locks; DestroyInstance does not close them, and
// they keep working until their own Close is called.
func (inst *Instance) DestroyInstance() error {
	inst.mu.Lock()
	for _, entry := range inst.flows {
		entry.seg.Close()
	}
	inst.flows = nil
	inst.mu.Unlock()

	inst.cancel()
	inst.g.Wait()
	inst.log.Info("domain instance destroyed", "dir", inst.dir)
	return nil
}

func grainRateOf(desc descriptor.FlowDescriptor) rational.Rational {
	switch d := desc.(type) {
	case *descriptor.VideoFlow:
		return d.GrainRate.Rational()
	case *descriptor.DataFlow:
		return d.GrainRate.Rational()
	default:
		return rational.Rational{}
	}
}
