// Package vector implements the similarity index behind the agents'
// retrieval tool: an in-memory store of unit vectors with a persisted
// file pair (binary vectors + JSON metadata sidecar), threshold-descent
// search, an OpenAI-compatible embedding client and the task-facing
// retriever.
package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/copydesk/stringer/pkg/persist"
)

// Metric selects how similarity is derived from a pair of unit vectors.
type Metric uint16

const (
	// MetricInnerProduct scores by dot product (cosine on unit vectors).
	MetricInnerProduct Metric = 0
	// MetricL2 scores by 1/(1+euclidean distance).
	MetricL2 Metric = 1
)

const (
	indexMagic   = "SVEC"
	indexVersion = 1
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrZeroVector is returned when a vector cannot be normalized.
	ErrZeroVector = errors.New("zero vector cannot be indexed")
	// ErrIndexCorrupted is returned when the persisted file pair is
	// inconsistent or unreadable.
	ErrIndexCorrupted = errors.New("vector index corrupted")
)

// Metadata describes one indexed entry. Extra holds free-form fields that
// are flattened into the sidecar JSON object alongside the fixed keys.
type Metadata struct {
	Content  string
	Filename string
	Type     string
	Extra    map[string]string
}

func (m Metadata) clone() Metadata {
	out := m
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// toObject flattens the metadata into a single JSON object.
func (m Metadata) toObject() map[string]string {
	obj := make(map[string]string, len(m.Extra)+3)
	for k, v := range m.Extra {
		obj[k] = v
	}
	obj["content"] = m.Content
	obj["filename"] = m.Filename
	obj["type"] = m.Type
	return obj
}

// metadataFromObject splits a sidecar object back into fixed and extra keys.
func metadataFromObject(obj map[string]string) Metadata {
	m := Metadata{
		Content:  obj["content"],
		Filename: obj["filename"],
		Type:     obj["type"],
	}
	for k, v := range obj {
		switch k {
		case "content", "filename", "type":
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return m
}

// Index is an ordered collection of (unit vector, metadata) pairs with
// stable positions 0..n-1. Persisted as a file pair: the binary vector
// file and an index-aligned JSON metadata sidecar, both replaced with the
// backup-rename pattern so readers never observe a half-written artifact.
type Index struct {
	mu           sync.RWMutex
	dim          int
	metric       Metric
	indexPath    string
	metadataPath string
	vectors      [][]float32
	metas        []Metadata
}

// NewIndex creates an empty index. Call LoadOrCreate before use.
func NewIndex(dim int, metric Metric, indexPath, metadataPath string) *Index {
	return &Index{
		dim:          dim,
		metric:       metric,
		indexPath:    indexPath,
		metadataPath: metadataPath,
	}
}

// Dimension returns the configured vector dimension.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Count returns the number of indexed entries.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// MetadataAt returns a copy of the metadata at position i.
func (idx *Index) MetadataAt(i int) (Metadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if i < 0 || i >= len(idx.metas) {
		return Metadata{}, false
	}
	return idx.metas[i].clone(), true
}

// Add appends entries to the index. Every vector is checked against the
// index dimension and unit-normalized; the write lock is held across the
// persisted rename so concurrent searches never see a partial batch.
func (idx *Index) Add(vectors [][]float32, metas []Metadata, save bool) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("got %d vectors but %d metadata entries", len(vectors), len(metas))
	}

	normalized := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if len(vec) != idx.dim {
			return fmt.Errorf("%w: got %d, index dimension %d", ErrDimensionMismatch, len(vec), idx.dim)
		}
		unit, ok := normalize(vec)
		if !ok {
			return fmt.Errorf("%w: entry %d", ErrZeroVector, i)
		}
		normalized[i] = unit
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range normalized {
		idx.vectors = append(idx.vectors, normalized[i])
		idx.metas = append(idx.metas, metas[i].clone())
	}
	if save {
		if err := idx.persistLocked(); err != nil {
			// Roll back the append so memory matches disk.
			idx.vectors = idx.vectors[:len(idx.vectors)-len(normalized)]
			idx.metas = idx.metas[:len(idx.metas)-len(normalized)]
			return err
		}
	}
	return nil
}

// Search scores every entry against the query and returns the top-k
// (similarity, position) pairs in descending similarity order. An empty
// index yields empty slices.
func (idx *Index) Search(query []float32, k int) ([]float32, []int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	q := query
	if unit, ok := normalize(query); ok {
		q = unit
	}

	scores := make([]float32, len(idx.vectors))
	order := make([]int, len(idx.vectors))
	for i, vec := range idx.vectors {
		scores[i] = idx.score(q, vec)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	topScores := make([]float32, k)
	topIdx := make([]int, k)
	for i := 0; i < k; i++ {
		topScores[i] = scores[order[i]]
		topIdx[i] = order[i]
	}
	return topScores, topIdx
}

func (idx *Index) score(q, vec []float32) float32 {
	switch idx.metric {
	case MetricL2:
		var sum float64
		for i := range q {
			d := float64(q[i]) - float64(vec[i])
			sum += d * d
		}
		return float32(1.0 / (1.0 + math.Sqrt(sum)))
	default:
		var dot float64
		for i := range q {
			dot += float64(q[i]) * float64(vec[i])
		}
		return float32(dot)
	}
}

// Clear drops every entry and persists the empty pair.
func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	prevVectors, prevMetas := idx.vectors, idx.metas
	idx.vectors = nil
	idx.metas = nil
	if err := idx.persistLocked(); err != nil {
		idx.vectors, idx.metas = prevVectors, prevMetas
		return err
	}
	return nil
}

// LoadOrCreate loads the persisted pair when both artifacts exist;
// otherwise the index starts empty and the empty pair is written. Stale
// backup siblings from an interrupted save are removed first.
func (idx *Index) LoadOrCreate() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	persist.RemoveStaleBackup(idx.indexPath)
	persist.RemoveStaleBackup(idx.metadataPath)

	vecData, vecErr := os.ReadFile(idx.indexPath)
	metaData, metaErr := os.ReadFile(idx.metadataPath)

	if os.IsNotExist(vecErr) || os.IsNotExist(metaErr) {
		idx.vectors = nil
		idx.metas = nil
		return idx.persistLocked()
	}
	if vecErr != nil {
		return fmt.Errorf("failed to read vector file: %w", vecErr)
	}
	if metaErr != nil {
		return fmt.Errorf("failed to read metadata file: %w", metaErr)
	}

	vectors, err := idx.decodeVectors(vecData)
	if err != nil {
		return err
	}

	var objects []map[string]string
	if err := json.Unmarshal(metaData, &objects); err != nil {
		return fmt.Errorf("%w: metadata sidecar: %v", ErrIndexCorrupted, err)
	}
	if len(objects) != len(vectors) {
		return fmt.Errorf("%w: %d vectors but %d metadata entries",
			ErrIndexCorrupted, len(vectors), len(objects))
	}

	metas := make([]Metadata, len(objects))
	for i, obj := range objects {
		metas[i] = metadataFromObject(obj)
	}

	idx.vectors = vectors
	idx.metas = metas
	return nil
}

// persistLocked writes the file pair, vectors first. Caller holds the
// write lock.
func (idx *Index) persistLocked() error {
	if err := persist.WriteFile(idx.indexPath, idx.encodeVectors()); err != nil {
		return fmt.Errorf("failed to persist vector file: %w", err)
	}

	objects := make([]map[string]string, len(idx.metas))
	for i, m := range idx.metas {
		objects[i] = m.toObject()
	}
	data, err := json.MarshalIndent(objects, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata sidecar: %w", err)
	}
	if err := persist.WriteFile(idx.metadataPath, data); err != nil {
		return fmt.Errorf("failed to persist metadata sidecar: %w", err)
	}
	return nil
}

// encodeVectors serialises the vectors in the binary format:
// magic "SVEC", uint16 version, uint16 metric, uint32 dimension,
// uint32 count, count×dim little-endian float32.
func (idx *Index) encodeVectors() []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(indexMagic)
	_ = binary.Write(buf, binary.LittleEndian, uint16(indexVersion))
	_ = binary.Write(buf, binary.LittleEndian, uint16(idx.metric))
	_ = binary.Write(buf, binary.LittleEndian, uint32(idx.dim))
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(idx.vectors)))
	for _, vec := range idx.vectors {
		_ = binary.Write(buf, binary.LittleEndian, vec)
	}
	return buf.Bytes()
}

func (idx *Index) decodeVectors(data []byte) ([][]float32, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(indexMagic))
	if _, err := r.Read(magic); err != nil || string(magic) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrIndexCorrupted)
	}

	var version, metric uint16
	var dim, count uint32
	for _, field := range []any{&version, &metric, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrIndexCorrupted)
		}
	}
	if version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupted, version)
	}
	if int(dim) != idx.dim {
		return nil, fmt.Errorf("%w: file dimension %d, index dimension %d",
			ErrIndexCorrupted, dim, idx.dim)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: truncated vector data at entry %d", ErrIndexCorrupted, i)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// normalize returns a unit-length copy of vec, or false for a zero vector.
func normalize(vec []float32) ([]float32, bool) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, false
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, true
}
