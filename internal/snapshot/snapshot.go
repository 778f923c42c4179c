// Package snapshot persists grid cell state and the obstacles that produced
// it. A file is a zstd stream holding one JSON header line followed by a gob
// body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"gridweaver/internal/core"
	"gridweaver/internal/grid"
)

const Version = 1

// ErrVersion is returned for a snapshot written by an incompatible version.
var ErrVersion = errors.New("unsupported snapshot version")

// Header leads every snapshot file and is enough to reject a mismatched one.
type Header struct {
	Version    int     `json:"version"`
	Tick       uint64  `json:"tick"`
	SizeX      int     `json:"size_x"`
	SizeY      int     `json:"size_y"`
	NodeRadius float64 `json:"node_radius"`
	Obstacles  int     `json:"obstacles"`
}

type Snapshot struct {
	Header    Header
	Grid      grid.State
	Obstacles []core.Obstacle
}

// New fills in the header of a snapshot of state.
func New(tick uint64, nodeRadius float64, state grid.State, obstacles []core.Obstacle) Snapshot {
	return Snapshot{
		Header: Header{
			Version:    Version,
			Tick:       tick,
			SizeX:      state.SizeX,
			SizeY:      state.SizeY,
			NodeRadius: nodeRadius,
			Obstacles:  len(obstacles),
		},
		Grid:      state,
		Obstacles: obstacles,
	}
}

// Write stores snap at path as a JSON header line followed by a gob body,
// zstd compressed.
func Write(path string, snap Snapshot) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	hb = append(hb, '\n')
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read loads a snapshot written by Write.
func Read(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	header, err := readHeader(br)
	if err != nil {
		return snap, err
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header != header {
		return snap, fmt.Errorf("snapshot header mismatch: %+v vs %+v", header, snap.Header)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()

	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}
