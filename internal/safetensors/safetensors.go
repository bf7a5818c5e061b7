package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/statemap/internal/tensor"
)

const (
	metadataKey   = "__metadata__"
	maxHeaderSize = 256 << 20
)

var ErrCorruptFile = errors.New("safetensors: corrupt file")

// TensorInfo locates a tensor payload. Start and End are absolute file
// offsets, End exclusive.
type TensorInfo struct {
	DType tensor.DType
	Shape []int
	Start int64
	End   int64
}

func (ti TensorInfo) Size() int64 { return ti.End - ti.Start }

type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// File is one open .safetensors file. Payloads are served from a read-only
// mapping of the whole file, or with ReadAt where mmap is unavailable.
// Slices returned by ReadTensor alias the mapping and must not be written.
type File struct {
	Path     string
	Metadata map[string]string
	Tensors  map[string]TensorInfo

	f    *os.File
	data []byte
}

// Open parses the header of path and maps the file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sf, err := open(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sf.Path = path
	return sf, nil
}

func open(f *os.File) (*File, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptFile, size)
	}

	var lenBuf [8]byte
	if _, err := f.ReadAt(lenBuf[:], 0); err != nil {
		return nil, err
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > maxHeaderSize || int64(headerLen) > size-8 {
		return nil, fmt.Errorf("%w: header length %d exceeds file size %d", ErrCorruptFile, headerLen, size)
	}
	header := make([]byte, headerLen)
	if _, err := f.ReadAt(header, 8); err != nil {
		return nil, err
	}

	sf, err := parseHeader(header, 8+int64(headerLen), size)
	if err != nil {
		return nil, err
	}
	sf.f = f

	if size <= int64(int(^uint(0)>>1)) {
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			sf.data = data
		}
	}
	return sf, nil
}

func parseHeader(header []byte, dataStart, size int64) (*File, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse header: %w", ErrCorruptFile, err)
	}

	sf := &File{Tensors: make(map[string]TensorInfo, len(raw))}
	if meta, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(meta, &sf.Metadata); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrCorruptFile, metadataKey, err)
		}
		delete(raw, metadataKey)
	}

	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %w", ErrCorruptFile, name, err)
		}
		dtype, err := tensor.ParseDType(th.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		n, err := tensor.NumElements(th.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		off0, off1 := th.DataOffsets[0], th.DataOffsets[1]
		if off0 < 0 || off1 < off0 || off1 > size-dataStart {
			return nil, fmt.Errorf("%w: tensor %q: data_offsets %v out of range", ErrCorruptFile, name, th.DataOffsets)
		}
		start, end := off0+dataStart, off1+dataStart
		if want := int64(n) * int64(dtype.Size()); end-start != want {
			return nil, fmt.Errorf("%w: tensor %q: %s%v needs %d bytes, header says %d",
				ErrCorruptFile, name, dtype, th.Shape, want, end-start)
		}
		sf.Tensors[name] = TensorInfo{DType: dtype, Shape: th.Shape, Start: start, End: end}
	}
	return sf, nil
}

// Mapped reports whether payloads come from mmap.
func (f *File) Mapped() bool { return f.data != nil }

// Names returns the tensor names sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	ti, ok := f.Tensors[name]
	return ti, ok
}

// ReadTensor returns the raw payload of name.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	ti, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %q not found in %s", name, f.Path)
	}
	if f.data != nil {
		return f.data[ti.Start:ti.End:ti.End], ti, nil
	}
	if f.f == nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: %s is closed", f.Path)
	}
	buf := make([]byte, ti.Size())
	if _, err := f.f.ReadAt(buf, ti.Start); err != nil && !errors.Is(err, io.EOF) {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: read %q: %w", name, err)
	}
	return buf, ti, nil
}

// Close unmaps and closes the file. Slices handed out by ReadTensor are
// invalid afterwards.
func (f *File) Close() error {
	var err error
	if f.data != nil {
		err = unix.Munmap(f.data)
		f.data = nil
	}
	if f.f != nil {
		err = errors.Join(err, f.f.Close())
		f.f = nil
	}
	return err
}
