package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"memoria/internal/obslog"
)

// fileMagic marks the start of a serialized index file. fileType
// discriminates the two persisted shapes the spec's layout names:
// a full HNSW graph dump, or a brute-force-only mirror dump written
// when the graph path was dirty at save time.
const fileMagic = "MVIDX001"

type fileType byte

const (
	typeHNSW       fileType = 1
	typeBruteForce fileType = 2
)

// Save serializes the index to path: config, entry point, top level,
// and one record per node (label, vector, per-layer neighbor lists).
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vectorindex: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if _, err := w.WriteString(fileMagic); err != nil {
		return err
	}

	ft := typeHNSW
	if idx.dirty || !idx.hasEntry {
		ft = typeBruteForce
	}
	if err := writeByte(w, byte(ft)); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(idx.cfg.Dimensions)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(idx.cfg.M)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(idx.cfg.EfConstruction)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(idx.cfg.EfSearch)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(idx.cfg.MaxElements)); err != nil {
		return err
	}

	if ft == typeBruteForce {
		if err := writeUint64(w, 0); err != nil { // entry point unused
			return err
		}
		if err := writeUint32(w, 0); err != nil { // top level unused
			return err
		}
		if err := writeUint32(w, uint32(len(idx.mirror))); err != nil {
			return err
		}
		for label, v := range idx.mirror {
			if err := writeUint64(w, label); err != nil {
				return err
			}
			if err := writeVector(w, v); err != nil {
				return err
			}
		}
		return w.Flush()
	}

	if err := writeUint64(w, idx.entryPoint); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(idx.topLevel)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(idx.nodes))); err != nil {
		return err
	}
	for label, n := range idx.nodes {
		if err := writeUint64(w, label); err != nil {
			return err
		}
		if err := writeVector(w, n.vector); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(n.level)); err != nil {
			return err
		}
		for l := 0; l <= n.level; l++ {
			if err := writeUint32(w, uint32(len(n.neighbors[l]))); err != nil {
				return err
			}
			for _, nb := range n.neighbors[l] {
				if err := writeUint64(w, nb); err != nil {
					return err
				}
			}
		}
	}
	return w.Flush()
}

// Load reads a previously saved index. A missing, empty, or corrupted
// file is reported via the returned bool (rebuild flag) rather than an
// error: callers are expected to rebuild from the entry store in that
// case, per spec.md §6's format-versioning contract.
func Load(path string, logger *obslog.Logger, rngSeed int64) (idx *Index, needsRebuild bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, true, nil
		}
		return nil, true, nil
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != fileMagic {
		logger.Warn("vector index file missing/corrupt magic, rebuilding")
		return nil, true, nil
	}

	ftByte, err := r.ReadByte()
	if err != nil {
		logger.Warn("vector index file truncated, rebuilding")
		return nil, true, nil
	}
	ft := fileType(ftByte)

	dims, err1 := readUint32(r)
	m, err2 := readUint32(r)
	efc, err3 := readUint32(r)
	efs, err4 := readUint32(r)
	maxEl, err5 := readUint32(r)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		logger.Warn("vector index file truncated reading config, rebuilding")
		return nil, true, nil
	}

	cfg := Config{
		Dimensions:     int(dims),
		M:              int(m),
		EfConstruction: int(efc),
		EfSearch:       int(efs),
		MaxElements:    int(maxEl),
	}
	idx = New(cfg, logger, rngSeed)

	entryPoint, err := readUint64(r)
	if err != nil {
		return nil, true, nil
	}
	topLevel, err := readUint32(r)
	if err != nil {
		return nil, true, nil
	}
	count, err := readUint32(r)
	if err != nil {
		return nil, true, nil
	}

	if ft == typeBruteForce {
		for i := uint32(0); i < count; i++ {
			label, err := readUint64(r)
			if err != nil {
				logger.Warn("vector index file truncated at record %d, rebuilding", i)
				return nil, true, nil
			}
			v, err := readVector(r, int(dims))
			if err != nil {
				logger.Warn("vector index file truncated at record %d, rebuilding", i)
				return nil, true, nil
			}
			idx.mirror[label] = v
		}
		idx.dirty = true
		return idx, false, nil
	}

	idx.entryPoint = entryPoint
	idx.topLevel = int(topLevel)
	idx.hasEntry = count > 0

	for i := uint32(0); i < count; i++ {
		label, err := readUint64(r)
		if err != nil {
			logger.Warn("vector index file truncated at node %d, rebuilding", i)
			return nil, true, nil
		}
		v, err := readVector(r, int(dims))
		if err != nil {
			logger.Warn("vector index file truncated at node %d, rebuilding", i)
			return nil, true, nil
		}
		level, err := readUint32(r)
		if err != nil {
			logger.Warn("vector index file truncated at node %d, rebuilding", i)
			return nil, true, nil
		}
		n := &node{label: label, vector: v, level: int(level), neighbors: make([][]uint64, level+1)}
		for l := 0; l <= int(level); l++ {
			nc, err := readUint32(r)
			if err != nil {
				return nil, true, nil
			}
			neighbors := make([]uint64, nc)
			for j := uint32(0); j < nc; j++ {
				nb, err := readUint64(r)
				if err != nil {
					return nil, true, nil
				}
				neighbors[j] = nb
			}
			n.neighbors[l] = neighbors
		}
		idx.nodes[label] = n
		idx.mirror[label] = v
	}

	return idx, false, nil
}

func writeByte(w *bufio.Writer, b byte) error { return w.WriteByte(b) }

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeVector(w *bufio.Writer, v []float32) error {
	for _, x := range v {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readVector(r *bufio.Reader, dims int) ([]float32, error) {
	v := make([]float32, dims)
	for i := 0; i < dims; i++ {
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return v, nil
}
