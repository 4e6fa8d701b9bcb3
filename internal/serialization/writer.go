package serialization

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Producer is recorded in the header of every file this package writes.
const Producer = "micro 0.1.0"

// GraphWriter writes graphs in .mcro format (always v2, with checksum).
type GraphWriter struct {
	file   *os.File
	closed bool
}

// NewGraphWriter creates a new .mcro file writer.
func NewGraphWriter(path string) (*GraphWriter, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file")
	}
	return &GraphWriter{file: file}, nil
}

// WriteGraph serializes g to the file.
func (w *GraphWriter) WriteGraph(g *Graph) error {
	if w.closed {
		return errors.New("writer is closed")
	}
	return WriteTo(w.file, g)
}

// Close closes the underlying file.
func (w *GraphWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// WriteFile serializes g to a new file at path.
func WriteFile(path string, g *Graph) error {
	w, err := NewGraphWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteGraph(g); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// WriteTo serializes g to writer in v2 format.
func WriteTo(writer io.Writer, g *Graph) error {
	header, dataSize, err := g.header()
	if err != nil {
		return err
	}
	header.Producer = Producer
	header.CreatedAt = time.Now().UTC()

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	for _, t := range header.Tensors {
		if t.IsVariable {
			flags |= FlagHasVariables
			break
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	// Lay out the data section first: its checksum goes into the fixed header.
	section := make([]byte, dataSize)
	for i, b := range header.Buffers {
		copy(section[b.Offset:b.Offset+b.Size], g.BufferList[i])
	}
	checksum := sha256.Sum256(section)

	fixed := make([]byte, FixedHeaderSizeV2)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersionV2)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(dataSize)) //nolint:gosec // G115: dataSize >= 0
	copy(fixed[ChecksumOffsetV2:], checksum[:])

	bw := bufio.NewWriter(writer)
	if _, err := bw.Write(fixed); err != nil {
		return errors.Wrap(err, "failed to write fixed header")
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	headerEnd := int64(FixedHeaderSizeV2 + len(headerJSON))
	if padding := alignUp(headerEnd) - headerEnd; padding > 0 {
		if _, err := bw.Write(make([]byte, padding)); err != nil {
			return errors.Wrap(err, "failed to write padding")
		}
	}
	if _, err := bw.Write(section); err != nil {
		return errors.Wrap(err, "failed to write buffer data")
	}
	return errors.Wrap(bw.Flush(), "failed to flush")
}
