package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sparsecoder-ml/sparsecoder/internal/tensor"
)

// maxHeaderSize bounds the JSON header; anything larger is corrupt.
const maxHeaderSize = 100 * 1024 * 1024

// safeTensorsHeader is the parsed JSON header of a SafeTensors file.
type safeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]tensorHeader
}

// UnmarshalJSON separates the "__metadata__" entry from tensor entries.
func (h *safeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]tensorHeader)
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info tensorHeader
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}

	return nil
}

// Reader reads SafeTensors files.
type Reader struct {
	file       *os.File
	header     safeTensorsHeader
	dataOffset int64
}

// NewReader opens a SafeTensors file and parses its header.
func NewReader(path string) (*Reader, error) {
	//nolint:gosec // G304: path comes from trusted caller, not user input.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header safeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	return &Reader{
		file:       file,
		header:     header,
		dataOffset: int64(8 + headerSize), //nolint:gosec // G115: file offsets fit int64
	}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (r *Reader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in the file.
func (r *Reader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	return names
}

// LoadTensor reads a tensor by name into a RawTensor.
func (r *Reader) LoadTensor(name string, device tensor.Device) (*tensor.RawTensor, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}

	dtype, err := safeTensorsDType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	shape := make(tensor.Shape, len(info.Shape))
	for i, dim := range info.Shape {
		shape[i] = int(dim)
	}

	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size < 0 || size != int64(shape.NumElements()*dtype.Size()) {
		return nil, fmt.Errorf("tensor %s: %w: [%d, %d] for shape %v",
			name, ErrInvalidOffsets, info.DataOffsets[0], info.DataOffsets[1], shape)
	}

	raw, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	if _, err := r.file.Seek(r.dataOffset+info.DataOffsets[0], io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	if _, err := io.ReadFull(r.file, raw.Data()); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	return raw, nil
}

// LoadStateDict reads every tensor in the file.
func (r *Reader) LoadStateDict(device tensor.Device) (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for name := range r.header.Tensors {
		raw, err := r.LoadTensor(name, device)
		if err != nil {
			return nil, err
		}
		stateDict[name] = raw
	}
	return stateDict, nil
}

// safeTensorsDType converts a SafeTensors dtype string to a DataType.
func safeTensorsDType(dtype string) (tensor.DataType, error) {
	switch dtype {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
}
