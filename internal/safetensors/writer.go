package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/statemap/internal/state"
	"github.com/samcharles93/statemap/internal/tensor"
	"github.com/samcharles93/statemap/internal/version"
)

// Metadata is the free-form __metadata__ header entry.
type Metadata map[string]string

// NewMetadata returns the metadata stamped on converted checkpoints. Each
// call gets a fresh conversion id.
func NewMetadata(sourceFamily string) Metadata {
	return Metadata{
		"format":        "pt",
		"converter":     "statemap " + version.String(),
		"conversion_id": uuid.NewString(),
		"source_family": sourceFamily,
	}
}

type entry struct {
	name string
	t    tensor.Tensor
	size int64
}

func entries(c *state.Container) ([]entry, error) {
	names := c.Keys()
	slices.Sort(names)
	out := make([]entry, 0, len(names))
	for _, name := range names {
		t, _ := c.Get(name)
		if t == nil {
			return nil, fmt.Errorf("safetensors: tensor %q is nil", name)
		}
		if t.DType().Size() == 0 {
			return nil, fmt.Errorf("safetensors: tensor %q has unsupported dtype %q", name, t.DType())
		}
		size, err := tensor.ByteSize(t)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}
		out = append(out, entry{name: name, t: t, size: int64(size)})
	}
	return out, nil
}

// encode writes one safetensors file holding es. Tensors are laid out in
// name order and the header is space padded to 8 bytes.
func encode(w io.Writer, es []entry, meta Metadata) error {
	header := make(map[string]any, len(es)+1)
	if len(meta) > 0 {
		header[metadataKey] = meta
	}
	var off int64
	for _, e := range es {
		shape := e.t.Shape()
		if shape == nil {
			shape = []int{}
		}
		header[e.name] = tensorHeader{
			DType:       string(e.t.DType()),
			Shape:       shape,
			DataOffsets: [2]int64{off, off + e.size},
		}
		off += e.size
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: marshal header: %w", err)
	}
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	bw := bufio.NewWriterSize(w, 1<<20)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(hb))); err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	for _, e := range es {
		b, err := e.t.Bytes()
		if err != nil {
			return fmt.Errorf("safetensors: read %q: %w", e.name, err)
		}
		if int64(len(b)) != e.size {
			return fmt.Errorf("safetensors: tensor %q has %d bytes, want %d", e.name, len(b), e.size)
		}
		if _, err := bw.Write(b); err != nil {
			return fmt.Errorf("safetensors: write %q: %w", e.name, err)
		}
	}
	return bw.Flush()
}

// writeAtomic writes path through a temporary file in the same directory.
func writeAtomic(path string, es []entry, meta Metadata) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = encode(tmp, es, meta); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteFile writes every tensor in c to a single file at path.
func WriteFile(path string, c *state.Container, meta Metadata) error {
	es, err := entries(c)
	if err != nil {
		return err
	}
	return writeAtomic(path, es, meta)
}

// ShardName formats the Hugging Face shard file name.
func ShardName(i, n int) string {
	return fmt.Sprintf("model-%05d-of-%05d.safetensors", i, n)
}

// WriteSharded writes c into dir, starting a new shard whenever the next
// tensor would push the current one past maxShardBytes. A tensor larger
// than the limit gets a shard of its own. A single shard is written as
// model.safetensors without an index. It returns the files written.
func WriteSharded(dir string, c *state.Container, maxShardBytes int64, meta Metadata) ([]string, error) {
	if maxShardBytes <= 0 {
		return nil, fmt.Errorf("safetensors: shard size must be positive, got %d", maxShardBytes)
	}
	es, err := entries(c)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var shards [][]entry
	var cur []entry
	var curSize, total int64
	for _, e := range es {
		if len(cur) > 0 && curSize+e.size > maxShardBytes {
			shards = append(shards, cur)
			cur, curSize = nil, 0
		}
		cur = append(cur, e)
		curSize += e.size
		total += e.size
	}
	if len(cur) > 0 || len(shards) == 0 {
		shards = append(shards, cur)
	}

	if len(shards) == 1 {
		path := filepath.Join(dir, "model.safetensors")
		if err := writeAtomic(path, shards[0], meta); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	idx := Index{
		Metadata:  map[string]any{"total_size": total},
		WeightMap: make(map[string]string, len(es)),
	}
	for k, v := range meta {
		idx.Metadata[k] = v
	}
	written := make([]string, 0, len(shards)+1)
	for i, shard := range shards {
		name := ShardName(i+1, len(shards))
		path := filepath.Join(dir, name)
		if err := writeAtomic(path, shard, meta); err != nil {
			return written, err
		}
		written = append(written, path)
		for _, e := range shard {
			idx.WeightMap[e.name] = name
		}
	}

	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return written, err
	}
	idxPath := filepath.Join(dir, IndexFile)
	if err := os.WriteFile(idxPath, append(b, '\n'), 0o644); err != nil {
		return written, err
	}
	return append(written, idxPath), nil
}
