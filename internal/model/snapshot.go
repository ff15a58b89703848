package model

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
)

// SnapshotFormat identifies the parameter layout written by WriteSnapshot.
const SnapshotFormat = "lumen-forge.enhancer.v1"

const (
	metadataKey    = "__metadata__"
	maxHeaderBytes = 16 << 20
)

// SnapshotMeta is stored next to the parameters.
type SnapshotMeta struct {
	Format       string
	Epochs       int
	LearningRate float64
}

type tensorEntry struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// WriteSnapshot encodes params as a safetensors document: an 8-byte
// little-endian header length, a JSON header, then float32 data.
func WriteSnapshot(w io.Writer, params []*Param, meta SnapshotMeta) error {
	header := map[string]any{
		metadataKey: map[string]string{
			"format":        SnapshotFormat,
			"epochs":        strconv.Itoa(meta.Epochs),
			"learning_rate": strconv.FormatFloat(meta.LearningRate, 'g', -1, 64),
		},
	}
	var offset int64
	for _, p := range params {
		if _, dup := header[p.Name]; dup {
			return fmt.Errorf("snapshot: duplicate param %s", p.Name)
		}
		size := int64(len(p.Val)) * 4
		header[p.Name] = tensorEntry{DType: "F32", Shape: p.Shape, Offsets: [2]int64{offset, offset + size}}
		offset += size
	}
	raw, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("snapshot: encode header: %w", err)
	}
	for len(raw)%8 != 0 {
		raw = append(raw, ' ')
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(raw))); err != nil {
		return fmt.Errorf("snapshot: write header size: %w", err)
	}
	if _, err := bw.Write(raw); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	buf := make([]byte, 4)
	for _, p := range params {
		for _, v := range p.Val {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := bw.Write(buf); err != nil {
				return fmt.Errorf("snapshot: write %s: %w", p.Name, err)
			}
		}
	}
	return bw.Flush()
}

// ReadSnapshot restores params in place. Every param must be present with
// a matching shape, and the document may not carry unknown tensors. On error
// no param is modified.
func ReadSnapshot(r io.Reader, params []*Param) (SnapshotMeta, error) {
	var meta SnapshotMeta
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return meta, fmt.Errorf("snapshot: read header size: %w", err)
	}
	if size == 0 || size > maxHeaderBytes {
		return meta, fmt.Errorf("snapshot: header size %d out of range", size)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return meta, fmt.Errorf("snapshot: read header: %w", err)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw, &header); err != nil {
		return meta, fmt.Errorf("snapshot: decode header: %w", err)
	}

	var fields map[string]string
	if m, ok := header[metadataKey]; ok {
		if err := json.Unmarshal(m, &fields); err != nil {
			return meta, fmt.Errorf("snapshot: decode metadata: %w", err)
		}
	}
	meta.Format = fields["format"]
	if meta.Format != SnapshotFormat {
		return meta, fmt.Errorf("snapshot: format %q, want %q", meta.Format, SnapshotFormat)
	}
	if v, ok := fields["epochs"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return meta, fmt.Errorf("snapshot: epochs: %w", err)
		}
		meta.Epochs = n
	}
	if v, ok := fields["learning_rate"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return meta, fmt.Errorf("snapshot: learning_rate: %w", err)
		}
		meta.LearningRate = f
	}
	if len(header)-1 != len(params) {
		return meta, fmt.Errorf("snapshot: %d tensors, want %d", len(header)-1, len(params))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return meta, fmt.Errorf("snapshot: read data: %w", err)
	}
	chunks := make([][]byte, len(params))
	for i, p := range params {
		msg, ok := header[p.Name]
		if !ok {
			return meta, fmt.Errorf("snapshot: missing param %s", p.Name)
		}
		var entry tensorEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			return meta, fmt.Errorf("snapshot: decode %s: %w", p.Name, err)
		}
		if entry.DType != "F32" {
			return meta, fmt.Errorf("snapshot: %s has dtype %s", p.Name, entry.DType)
		}
		if !slices.Equal(entry.Shape, p.Shape) {
			return meta, fmt.Errorf("snapshot: %s has shape %v, want %v", p.Name, entry.Shape, p.Shape)
		}
		begin, end := entry.Offsets[0], entry.Offsets[1]
		if begin < 0 || end > int64(len(data)) || end-begin != int64(len(p.Val))*4 {
			return meta, fmt.Errorf("snapshot: %s has bad offsets [%d, %d]", p.Name, begin, end)
		}
		chunks[i] = data[begin:end]
	}
	// Params are only written once every entry has been checked.
	for i, p := range params {
		for j := range p.Val {
			p.Val[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunks[i][4*j:])))
		}
	}
	return meta, nil
}

// SaveSnapshot writes the enhancer parameters to path.
func (e *Enhancer) SaveSnapshot(path string, meta SnapshotMeta) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteSnapshot(f, e.Params(), meta)
}

// LoadSnapshot restores enhancer parameters from path.
func (e *Enhancer) LoadSnapshot(path string) (SnapshotMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	meta, err := ReadSnapshot(bufio.NewReader(f), e.Params())
	if err != nil && errors.Is(err, io.ErrUnexpectedEOF) {
		return meta, fmt.Errorf("%s: truncated: %w", path, err)
	}
	return meta, err
}
