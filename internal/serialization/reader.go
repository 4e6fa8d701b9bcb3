package serialization

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ReaderOptions configures how a serialized graph is parsed.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// DefaultReaderOptions returns strict validation with checksum verification.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{ValidationLevel: ValidationStrict}
}

// fileLayout is what the fixed-size part of the file tells about the rest.
type fileLayout struct {
	version    uint32
	flags      uint32
	header     Header
	dataOffset int64
	dataSize   int64
	checksum   [ChecksumSize]byte
}

// parseLayout decodes the fixed header and the JSON header from the start of data.
func parseLayout(data []byte) (*fileLayout, error) {
	size := int64(len(data))
	if size < FixedHeaderSizeV1 {
		return nil, errors.Errorf("file too small: %d bytes (minimum %d bytes required)", size, FixedHeaderSizeV1)
	}
	if string(data[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}

	l := &fileLayout{
		version: binary.LittleEndian.Uint32(data[4:8]),
		flags:   binary.LittleEndian.Uint32(data[8:12]),
	}

	var headerSize uint64
	var jsonOffset int64
	switch l.version {
	case FormatVersion:
		headerSize = binary.LittleEndian.Uint64(data[12:20])
		jsonOffset = FixedHeaderSizeV1
	case FormatVersionV2:
		if size < FixedHeaderSizeV2 {
			return nil, errors.Errorf("file too small for v2: %d bytes (minimum %d bytes required)", size, FixedHeaderSizeV2)
		}
		headerSize = binary.LittleEndian.Uint64(data[16:24])
		dataSize := binary.LittleEndian.Uint64(data[24:32])
		if dataSize > uint64(size) {
			return nil, errors.Errorf("data size %d larger than file size %d", dataSize, size)
		}
		l.dataSize = int64(dataSize)
		copy(l.checksum[:], data[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])
		jsonOffset = FixedHeaderSizeV2
	default:
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, expected %d or %d", l.version, FormatVersion, FormatVersionV2)
	}

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	//nolint:gosec // G115: headerSize bounded by MaxHeaderSize
	headerEnd := jsonOffset + int64(headerSize)
	if headerEnd > size {
		return nil, errors.Errorf("header extends beyond file: header_end=%d, file_size=%d", headerEnd, size)
	}
	if err := json.Unmarshal(data[jsonOffset:headerEnd], &l.header); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	l.dataOffset = alignUp(headerEnd)
	if l.version == FormatVersion {
		l.dataSize = max(size-l.dataOffset, 0)
	}
	if l.dataOffset+l.dataSize > size {
		return nil, errors.Wrapf(ErrOutOfBounds, "data section [%d, %d) beyond file size %d",
			l.dataOffset, l.dataOffset+l.dataSize, size)
	}
	return l, nil
}

// Parse decodes a serialized graph held in data. The returned graph's buffers alias data,
// which must therefore outlive it and must not be modified.
func Parse(data []byte, opts ReaderOptions) (*Graph, error) {
	l, err := parseLayout(data)
	if err != nil {
		return nil, err
	}
	section := data[l.dataOffset : l.dataOffset+l.dataSize]

	if l.version == FormatVersionV2 && !opts.SkipChecksumValidation {
		if sha256.Sum256(section) != l.checksum {
			return nil, ErrChecksumMismatch
		}
	}

	if err := ValidateHeader(&l.header, l.dataSize, opts.ValidationLevel); err != nil {
		return nil, errors.WithMessage(err, "header validation failed")
	}
	return graphFromHeader(&l.header, section)
}

// ReadFrom reads a whole serialized graph from r into memory and parses it.
func ReadFrom(r io.Reader, opts ReaderOptions) (*Graph, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, errors.Wrap(err, "failed to read graph")
	}
	return Parse(buf.Bytes(), opts)
}

// ReadFile reads and parses the serialized graph at path.
func ReadFile(path string, opts ReaderOptions) (*Graph, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return Parse(data, opts)
}
