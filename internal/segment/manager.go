package segment

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mlefebvre1/mxl/descriptor"
	"github.com/mlefebvre1/mxl/flowid"
	"github.com/mlefebvre1/mxl/mxlerrors"
)

const (
	dataFileName       = "data"
	descriptorFileName = "descriptor.json"
	tempDirPrefix      = ".mxl-tmp-"
)

// Segment is an open, mapped flow: the FlowInfo header plus the body that
// follows it. Body is the raw grains/samples region a discretering.Ring or
// continuousring.Ring is built over.
type Segment struct {
	dir    string
	fd     int
	data   []byte
	Header *Header
	Body   []byte
}

// Manager materializes and opens segments under one domain directory,
// mirroring original_source/lib/internal/src/FlowManager.cpp's
// create-in-temp-then-rename publish pattern (spec §4.3, §4.8).
type Manager struct {
	domain string

	mu          sync.Mutex
	generations map[flowid.FlowId]uint64
}

func NewManager(domain string) *Manager {
	return &Manager{domain: domain, generations: make(map[flowid.FlowId]uint64)}
}

// nextGeneration returns the generation number to stamp on the segment
// being created for id, incrementing the Manager's own count for it so a
// destroy/recreate cycle (spec §6, §4.7 case (c)) is distinguishable from
// the previous incarnation even though its directory was unlinked and
// carries no on-disk history of its own.
func (m *Manager) nextGeneration(id flowid.FlowId) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen := m.generations[id]
	m.generations[id] = gen + 1
	return gen
}

func (m *Manager) flowDir(id flowid.FlowId) string {
	return filepath.Join(m.domain, id.String())
}

// Create allocates a new segment for id, writing raw (the exact bytes
// passed to createFlow) as descriptor.json and sizing the body from
// bodySize, the caller-computed payload region size (discrete slot array
// or continuous sample area). geom is not used to size the file.
func (m *Manager) Create(id flowid.FlowId, format Format, raw []byte, geom descriptor.Geometry, bodySize int64) (*Segment, error) {
	tempDir, err := os.MkdirTemp(m.domain, tempDirPrefix)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, mxlerrors.Wrap(mxlerrors.PermissionDenied, "domain directory not writable", err)
		}
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "mkdir temp flow directory", err)
	}
	// Only remove the temp directory on failure; success renames it away.
	publishedOK := false
	defer func() {
		if !publishedOK {
			os.RemoveAll(tempDir)
		}
	}()

	if err := writeDescriptorFile(tempDir, raw); err != nil {
		return nil, err
	}

	dataPath := filepath.Join(tempDir, dataFileName)
	totalSize := int64(HeaderSize) + bodySize

	fd, err := unix.Open(dataPath, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0644)
	if err != nil {
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "create flow data file", err)
	}
	if err := unix.Ftruncate(fd, totalSize); err != nil {
		unix.Close(fd)
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "ftruncate flow data file", err)
	}

	seg, err := mapSegment(tempDir, fd, int(totalSize))
	if err != nil {
		return nil, err
	}

	seg.Header.Magic = Magic
	seg.Header.Version = HeaderVersion
	seg.Header.Format = format
	idBytes := id.Bytes()
	copy(seg.Header.ID[:], idBytes[:])
	seg.Header.Generation.Store(m.nextGeneration(id))
	seg.Header.Valid.Store(true)
	seg.Header.WriterLive.Store(false)
	now := time.Now().UnixNano()
	seg.Header.LastReadTime.Store(now)
	seg.Header.LastWriteTime.Store(now)
	seg.Header.MaxCommitBatchSizeHint = 1
	seg.Header.MaxSyncBatchSizeHint = 1

	finalDir := m.flowDir(id)
	if err := os.Rename(tempDir, finalDir); err != nil {
		seg.Close()
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "publish flow directory", err)
	}
	seg.dir = finalDir
	publishedOK = true

	return seg, nil
}

// Open maps an existing segment for reading or writing.
func (m *Manager) Open(id flowid.FlowId) (*Segment, error) {
	dir := m.flowDir(id)
	dataPath := filepath.Join(dir, dataFileName)

	if _, err := os.Stat(dataPath); err != nil {
		if os.IsNotExist(err) {
			return nil, mxlerrors.Wrap(mxlerrors.FlowNotFound, "flow not found", err)
		}
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "stat flow data file", err)
	}

	fd, err := unix.Open(dataPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "open flow data file", err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "fstat flow data file", err)
	}

	seg, err := mapSegment(dir, fd, int(st.Size))
	if err != nil {
		return nil, err
	}
	if seg.Header.Magic != Magic {
		seg.Close()
		return nil, mxlerrors.Wrap(mxlerrors.FlowInvalid, "bad FlowInfo magic", nil)
	}

	return seg, nil
}

// Destroy marks the segment invalid then unlinks its directory (spec
// §4.8 destroyFlow). Returns FlowNotFound if the flow does not exist,
// satisfying property P3 for a second destroy of the same id.
func (m *Manager) Destroy(id flowid.FlowId) error {
	dir := m.flowDir(id)
	seg, err := m.Open(id)
	if err != nil {
		return err
	}
	seg.Header.Valid.Store(false)
	seg.Close()

	if err := os.RemoveAll(dir); err != nil {
		return mxlerrors.Wrap(mxlerrors.IOError, "remove flow directory", err)
	}
	return nil
}

func mapSegment(dir string, fd int, size int) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "mmap flow data file", err)
	}

	return &Segment{
		dir:    dir,
		fd:     fd,
		data:   data,
		Header: headerView(data),
		Body:   data[HeaderSize:],
	}, nil
}

func headerView(data []byte) *Header {
	return (*Header)(unsafe.Pointer(&data[0]))
}

// Dir returns the flow's directory path.
func (s *Segment) Dir() string { return s.dir }

// Close unmaps and closes the segment's backing file.
func (s *Segment) Close() error {
	var err error
	if s.data != nil {
		err = unix.Munmap(s.data)
		s.data = nil
	}
	if s.fd != 0 {
		unix.Close(s.fd)
		s.fd = 0
	}
	return err
}

func writeDescriptorFile(dir string, raw []byte) error {
	path := filepath.Join(dir, descriptorFileName)
	// Append a trailing NUL so ReadDescriptor's round trip (spec §4.3, P8)
	// can strip exactly one delimiter byte on the way back out.
	buf := make([]byte, len(raw)+1)
	copy(buf, raw)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return mxlerrors.Wrap(mxlerrors.IOError, "write descriptor.json", err)
	}
	return nil
}

// ReadDescriptor returns the canonical bytes passed to Create for id,
// stripped of the trailing NUL written by writeDescriptorFile.
func ReadDescriptor(domain string, id flowid.FlowId) ([]byte, error) {
	path := filepath.Join(domain, id.String(), descriptorFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mxlerrors.Wrap(mxlerrors.FlowNotFound, "descriptor not found", err)
		}
		return nil, mxlerrors.Wrap(mxlerrors.IOError, "read descriptor.json", err)
	}
	if n := len(raw); n > 0 && raw[n-1] == 0 {
		raw = raw[:n-1]
	}
	return raw, nil
}

// SetSyncBatchHint validates and stores the flow's sync-batch-size hint:
// it must be a positive multiple of the already-set commit-batch hint.
func SetSyncBatchHint(h *Header, hint uint32) error {
	if hint == 0 || hint%h.MaxCommitBatchSizeHint != 0 {
		return mxlerrors.Wrap(mxlerrors.InvalidArg, "maxSyncBatchSizeHint must be a positive multiple of maxCommitBatchSizeHint", nil)
	}
	h.MaxSyncBatchSizeHint = hint
	return nil
}

// FormatFromKind maps a descriptor.FlowKind to its FlowInfo format code.
func FormatFromKind(k descriptor.FlowKind) Format {
	switch k {
	case descriptor.KindVideo:
		return FormatVideo
	case descriptor.KindAudio:
		return FormatAudio
	case descriptor.KindData:
		return FormatData
	default:
		return FormatUnknown
	}
}
