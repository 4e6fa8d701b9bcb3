package serialization

import (
	"os"

	"github.com/pkg/errors"
)

// MmapReader provides memory-mapped access to .mcro files.
// Buffers it returns point straight into the read-only mapping, so constant tensors borrowing
// them cost no copy and no heap memory.
//
// Important: Always call Close() when done to unmap the file (use defer), and only after every
// graph loaded from it has been discarded.
type MmapReader struct {
	file   *os.File
	data   []byte // mmap'd region (read-only)
	graph  *Graph
	closed bool
}

var _ GraphReader = (*MmapReader)(nil)

// NewMmapReader memory-maps the .mcro file at path and parses its header.
func NewMmapReader(path string, opts ...ReaderOptions) (*MmapReader, error) {
	opt := DefaultReaderOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "failed to stat file")
	}
	if stat.Size() == 0 {
		_ = file.Close()
		return nil, errors.Errorf("file %q is empty", path)
	}

	// Memory map the file (platform-specific implementation)
	data, err := mmapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "mmap failed")
	}

	r := &MmapReader{file: file, data: data}
	r.graph, err = Parse(data, opt)
	if err != nil {
		_ = r.Close()
		return nil, errors.WithMessagef(err, "failed to parse %q", path)
	}
	return r, nil
}

// Graph returns the parsed graph. Its buffers are valid until Close.
func (r *MmapReader) Graph() *Graph { return r.graph }

// Tensors implements GraphReader.
func (r *MmapReader) Tensors() []TensorRecord { return r.graph.Tensors() }

// Operators implements GraphReader.
func (r *MmapReader) Operators() []Operator { return r.graph.Operators() }

// Inputs implements GraphReader.
func (r *MmapReader) Inputs() []int { return r.graph.Inputs() }

// Outputs implements GraphReader.
func (r *MmapReader) Outputs() []int { return r.graph.Outputs() }

// Buffer implements GraphReader. It returns nil once the reader is closed.
func (r *MmapReader) Buffer(index int) []byte {
	if r.closed {
		return nil
	}
	return r.graph.Buffer(index)
}

// Close unmaps and closes the file.
func (r *MmapReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.data != nil {
		err = munmapFile(r.data)
		r.data = nil
	}
	if closeErr := r.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
