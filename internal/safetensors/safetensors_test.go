package safetensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/statemap/internal/state"
	"github.com/samcharles93/statemap/internal/tensor"
)

// writeRaw writes a safetensors file from a literal header and payload.
func writeRaw(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	hb, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	var buf bytes.Buffer
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	buf.Write(lenBuf[:])
	buf.Write(hb)
	buf.Write(data)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func sampleContainer(t *testing.T) *state.Container {
	t.Helper()
	c := state.New()
	add := func(name string, vals []float32, shape ...int) {
		if err := c.Put(name, tensor.FromFloat32(vals, shape...)); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	add("b.weight", []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	add("a.bias", []float32{7, 8}, 2)
	add("c.scale", []float32{9}, 1)
	return c
}

func TestOpenValidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.safetensors")

	writeRaw(t, path, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"weight":       map[string]any{"dtype": "F32", "shape": []int{2, 3}, "data_offsets": []int64{0, 24}},
	}, make([]byte, 24))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Metadata["format"] != "pt" {
		t.Fatalf("expected metadata format pt, got %v", f.Metadata)
	}
	info, ok := f.Tensor("weight")
	if !ok {
		t.Fatal("tensor 'weight' not found")
	}
	if info.DType != tensor.F32 || len(info.Shape) != 2 || info.Shape[0] != 2 || info.Shape[1] != 3 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Size() != 24 {
		t.Fatalf("expected 24 bytes, got %d", info.Size())
	}
}

func TestOpenRejectsCorruptHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  map[string]any
		data    int
		corrupt bool
	}{
		{
			name:   "offsets past end",
			header: map[string]any{"w": map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 16}}},
			data:   8,
		},
		{
			name:   "size disagrees with shape",
			header: map[string]any{"w": map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 8}}},
			data:   8,
		},
		{
			name:   "reversed offsets",
			header: map[string]any{"w": map[string]any{"dtype": "U8", "shape": []int{0}, "data_offsets": []int64{4, 0}}},
			data:   4,
		},
		{
			name:   "unknown dtype",
			header: map[string]any{"w": map[string]any{"dtype": "Q4_K", "shape": []int{1}, "data_offsets": []int64{0, 1}}},
			data:   1,
		},
		{
			name:    "offsets overflow past max int64",
			header:  map[string]any{"x": map[string]any{"dtype": "U8", "shape": []int{}, "data_offsets": []int64{math.MaxInt64 - 7, math.MaxInt64 - 6}}},
			data:    1,
			corrupt: true,
		},
		{
			name:   "negative dim",
			header: map[string]any{"w": map[string]any{"dtype": "U8", "shape": []int{-1}, "data_offsets": []int64{0, 0}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bad.safetensors")
			writeRaw(t, path, tt.header, make([]byte, tt.data))
			_, err := Open(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.corrupt && !errors.Is(err, ErrCorruptFile) {
				t.Fatalf("expected ErrCorruptFile, got %v", err)
			}
		})
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "short.safetensors")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}

	// Header length larger than the file.
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 1<<20)
	if err := os.WriteFile(path, append(lenBuf[:], '{', '}'), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.safetensors")

	src := sampleContainer(t)
	if err := WriteFile(path, src, Metadata{"format": "pt", "source_family": "test"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if hl := binary.LittleEndian.Uint64(raw[:8]); hl%8 != 0 {
		t.Fatalf("header length %d is not 8-byte aligned", hl)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	want := []string{"a.bias", "b.weight", "c.scale"}
	got := f.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
	if f.Metadata["source_family"] != "test" {
		t.Fatalf("metadata lost: %v", f.Metadata)
	}

	// Payloads are laid out in name order.
	if a, b := f.Tensors["a.bias"], f.Tensors["b.weight"]; a.End != b.Start {
		t.Fatalf("expected a.bias to end where b.weight starts: %+v %+v", a, b)
	}

	b, _, err := f.ReadTensor("b.weight")
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	d, err := tensor.NewDense(tensor.F32, []int{2, 3}, b)
	if err != nil {
		t.Fatal(err)
	}
	vals, err := tensor.Float32(d)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range []float32{1, 2, 3, 4, 5, 6} {
		if vals[i] != v {
			t.Fatalf("element %d: got %v want %v", i, vals[i], v)
		}
	}
}

func TestWriteFileRejectsShortPayload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.safetensors")

	c := state.New()
	if err := c.Put("w", liar{}); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(path, c, nil); err == nil {
		t.Fatal("expected error for short payload")
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 0 {
		t.Fatalf("expected no files left behind, got %d", len(ents))
	}
}

// liar claims four F32 elements but only carries one.
type liar struct{}

func (liar) DType() tensor.DType    { return tensor.F32 }
func (liar) Shape() []int           { return []int{4} }
func (liar) Bytes() ([]byte, error) { return make([]byte, 4), nil }

func TestWriteShardedAndOpenModel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Sorted sizes: a.bias 8, b.weight 24, c.scale 4. A 24 byte limit
	// yields [a.bias] [b.weight] [c.scale].
	files, err := WriteSharded(dir, sampleContainer(t), 24, NewMetadata("test"))
	if err != nil {
		t.Fatalf("WriteSharded: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 3 shards plus index, got %v", files)
	}
	if filepath.Base(files[0]) != "model-00001-of-00003.safetensors" {
		t.Fatalf("unexpected shard name %s", files[0])
	}

	b, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		t.Fatal(err)
	}
	if idx.WeightMap["c.scale"] != ShardName(3, 3) {
		t.Fatalf("unexpected weight_map: %v", idx.WeightMap)
	}
	if total, ok := idx.Metadata["total_size"].(float64); !ok || total != 36 {
		t.Fatalf("unexpected total_size: %v", idx.Metadata["total_size"])
	}

	m, err := OpenModel(dir)
	if err != nil {
		t.Fatalf("OpenModel: %v", err)
	}
	defer func() { _ = m.Close() }()

	if len(m.Files) != 3 {
		t.Fatalf("expected 3 open shards, got %d", len(m.Files))
	}
	c := m.Container()
	if c.Len() != 3 {
		t.Fatalf("expected 3 tensors, got %d", c.Len())
	}
	ref, ok := m.Tensor("a.bias")
	if !ok {
		t.Fatal("a.bias missing")
	}
	if ref.DType() != tensor.F32 || ref.Shape()[0] != 2 {
		t.Fatalf("unexpected ref: %s %v", ref.DType(), ref.Shape())
	}
	vals, err := tensor.Float32(ref)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != 7 || vals[1] != 8 {
		t.Fatalf("a.bias = %v", vals)
	}
	if ref.Path() != filepath.Join(dir, ShardName(1, 3)) {
		t.Fatalf("unexpected shard path %s", ref.Path())
	}
}

func TestWriteShardedSingle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	files, err := WriteSharded(dir, sampleContainer(t), 1<<30, nil)
	if err != nil {
		t.Fatalf("WriteSharded: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "model.safetensors" {
		t.Fatalf("unexpected files %v", files)
	}
	if _, err := os.Stat(filepath.Join(dir, IndexFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no index, got %v", err)
	}

	// Directory with one file opens without an index.
	m, err := OpenModel(dir)
	if err != nil {
		t.Fatalf("OpenModel: %v", err)
	}
	defer func() { _ = m.Close() }()
	if got := len(m.Names()); got != 3 {
		t.Fatalf("expected 3 names, got %d", got)
	}
	if _, err := WriteSharded(dir, sampleContainer(t), 0, nil); err == nil {
		t.Fatal("expected error for zero shard size")
	}
}

func TestOpenModelErrors(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	if _, err := OpenModel(empty); err == nil {
		t.Fatal("expected error for empty dir")
	}

	two := t.TempDir()
	for _, n := range []string{"a.safetensors", "b.safetensors"} {
		writeRaw(t, filepath.Join(two, n), map[string]any{}, nil)
	}
	if _, err := OpenModel(two); err == nil {
		t.Fatal("expected error for ambiguous dir")
	}

	notST := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(notST, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenModel(notST); err == nil {
		t.Fatal("expected error for non-safetensors file")
	}

	badIdx := t.TempDir()
	writeRaw(t, filepath.Join(badIdx, "model-00001-of-00001.safetensors"), map[string]any{}, nil)
	idx := `{"weight_map": {"missing.weight": "model-00001-of-00001.safetensors"}}`
	if err := os.WriteFile(filepath.Join(badIdx, IndexFile), []byte(idx), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenModel(badIdx); err == nil {
		t.Fatal("expected error for tensor missing from shard")
	}
}

func TestModelConfigJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.safetensors")
	if err := WriteFile(path, sampleContainer(t), nil); err != nil {
		t.Fatal(err)
	}

	m, err := OpenModel(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Close() }()

	if _, err := m.ConfigJSON(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"num_hidden_layers": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := m.ConfigJSON()
	if err != nil || len(b) == 0 {
		t.Fatalf("ConfigJSON: %v", err)
	}
}

func TestNewMetadata(t *testing.T) {
	t.Parallel()
	a, b := NewMetadata("deepseek"), NewMetadata("deepseek")
	if a["conversion_id"] == "" || a["conversion_id"] == b["conversion_id"] {
		t.Fatalf("expected distinct conversion ids: %q %q", a["conversion_id"], b["conversion_id"])
	}
	if a["source_family"] != "deepseek" || a["format"] != "pt" {
		t.Fatalf("unexpected metadata %v", a)
	}
}

func TestReadAfterClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.safetensors")
	if err := WriteFile(path, sampleContainer(t), nil); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := f.ReadTensor("a.bias"); err == nil {
		t.Fatal("expected error after close")
	}
}
