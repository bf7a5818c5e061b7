package safetensors

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/statemap/internal/state"
	"github.com/samcharles93/statemap/internal/tensor"
)

// IndexFile is the Hugging Face shard index name.
const IndexFile = "model.safetensors.index.json"

// Index is the shard index JSON.
type Index struct {
	Metadata  map[string]any    `json:"metadata,omitempty"`
	WeightMap map[string]string `json:"weight_map"`
}

// Model is a checkpoint spread over one or more safetensors files.
type Model struct {
	// Dir holds the checkpoint, and config.json when present.
	Dir   string
	Files map[string]*File

	refs map[string]*Ref
}

// OpenModel accepts a .safetensors file, a directory with IndexFile, or a
// directory holding exactly one .safetensors file.
func OpenModel(path string) (*Model, error) {
	if path == "" {
		return nil, errors.New("safetensors: empty path")
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !st.IsDir() {
		if !strings.HasSuffix(strings.ToLower(path), ".safetensors") {
			return nil, fmt.Errorf("safetensors: expected a .safetensors file: %s", path)
		}
		f, err := Open(path)
		if err != nil {
			return nil, err
		}
		m := &Model{
			Dir:   filepath.Dir(path),
			Files: map[string]*File{filepath.Base(path): f},
			refs:  make(map[string]*Ref, len(f.Tensors)),
		}
		for name, info := range f.Tensors {
			m.refs[name] = &Ref{name: name, file: f, info: info}
		}
		return m, nil
	}

	idxPath := filepath.Join(path, IndexFile)
	if _, err := os.Stat(idxPath); err == nil {
		return openIndexed(path, idxPath)
	}
	single, err := findSingle(path)
	if err != nil {
		return nil, err
	}
	return OpenModel(single)
}

func findSingle(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".safetensors") {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("safetensors: no .safetensors file and no %s in %s", IndexFile, dir)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("safetensors: %d .safetensors files but no %s in %s", len(matches), IndexFile, dir)
}

func openIndexed(dir, idxPath string) (_ *Model, err error) {
	b, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("safetensors: parse %s: %w", idxPath, err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("safetensors: %s has an empty weight_map", idxPath)
	}

	m := &Model{Dir: dir, Files: make(map[string]*File), refs: make(map[string]*Ref, len(idx.WeightMap))}
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	for name, shard := range idx.WeightMap {
		if shard == "" || filepath.Base(shard) != shard {
			return nil, fmt.Errorf("safetensors: tensor %q has invalid shard name %q", name, shard)
		}
		f, ok := m.Files[shard]
		if !ok {
			f, err = Open(filepath.Join(dir, shard))
			if err != nil {
				return nil, err
			}
			m.Files[shard] = f
		}
		info, ok := f.Tensor(name)
		if !ok {
			return nil, fmt.Errorf("safetensors: tensor %q not found in shard %q", name, shard)
		}
		m.refs[name] = &Ref{name: name, file: f, info: info}
	}
	return m, nil
}

// Names returns every tensor name sorted.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.refs))
	for name := range m.refs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Model) Tensor(name string) (*Ref, bool) {
	r, ok := m.refs[name]
	return r, ok
}

// Container returns a state container of lazy handles, one per tensor.
func (m *Model) Container() *state.Container {
	raw := make(map[string]tensor.Tensor, len(m.refs))
	for name, r := range m.refs {
		raw[name] = r
	}
	return state.FromMap(raw)
}

// ConfigJSON reads config.json next to the checkpoint. The error wraps
// os.ErrNotExist when there is none.
func (m *Model) ConfigJSON() ([]byte, error) {
	return os.ReadFile(filepath.Join(m.Dir, "config.json"))
}

func (m *Model) Close() error {
	var err error
	for _, f := range m.Files {
		err = errors.Join(err, f.Close())
	}
	return err
}
