package atlas

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const volumeMagic = "BQVOL1"

// Header limits checked before any voxel buffer is allocated.
const (
	maxVolumeDim    = 2048
	maxVolumeVoxels = 1 << 27
)

// Volume is a labeled 3D voxel grid stored x-fastest.
type Volume struct {
	Dims [3]int
	data []int32
}

// NewVolume builds a volume from raw values. len(data) must equal the product of dims.
func NewVolume(dims [3]int, data []int32) (*Volume, error) {
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("invalid volume dims %v", dims)
	}
	if len(data) != dims[0]*dims[1]*dims[2] {
		return nil, fmt.Errorf("volume data length %d does not match dims %v", len(data), dims)
	}
	return &Volume{Dims: dims, data: data}, nil
}

// InBounds reports whether the voxel index lies inside the volume.
func (v *Volume) InBounds(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < v.Dims[0] && j < v.Dims[1] && k < v.Dims[2]
}

// At returns the label value at a voxel index.
func (v *Volume) At(i, j, k int) (int, bool) {
	if !v.InBounds(i, j, k) {
		return 0, false
	}
	return int(v.data[i+v.Dims[0]*(j+v.Dims[1]*k)]), true
}

// observed returns the set of positive values present in the grid.
func (v *Volume) observed() map[int]struct{} {
	seen := make(map[int]struct{})
	for _, val := range v.data {
		if val > 0 {
			seen[int(val)] = struct{}{}
		}
	}
	return seen
}

// DecodeVolume reads a gzip-compressed volume file.
func DecodeVolume(r io.Reader) (*Volume, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	magic := make([]byte, len(volumeMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(magic) != volumeMagic {
		return nil, errors.New("not a volume file")
	}
	var raw [3]uint32
	if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("read dims: %w", err)
	}
	width, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read voxel width: %w", err)
	}
	if width != 1 && width != 2 && width != 4 {
		return nil, fmt.Errorf("unsupported voxel width %d", width)
	}
	for _, d := range raw {
		if d == 0 || d > maxVolumeDim {
			return nil, fmt.Errorf("invalid volume dims %v", raw)
		}
	}
	dims := [3]int{int(raw[0]), int(raw[1]), int(raw[2])}
	n := dims[0] * dims[1] * dims[2]
	if n > maxVolumeVoxels {
		return nil, fmt.Errorf("volume of %d voxels exceeds the %d limit", n, maxVolumeVoxels)
	}
	data := make([]int32, n)
	switch width {
	case 1:
		buf := make([]uint8, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i, b := range buf {
			data[i] = int32(b)
		}
	case 2:
		buf := make([]uint16, n)
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i, b := range buf {
			data[i] = int32(b)
		}
	case 4:
		if err := binary.Read(br, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported voxel width %d", width)
	}
	return NewVolume(dims, data)
}

// EncodeVolume writes v in the gzip volume format with 4-byte voxels.
func EncodeVolume(w io.Writer, v *Volume) error {
	zw := gzip.NewWriter(w)
	if _, err := zw.Write([]byte(volumeMagic)); err != nil {
		return err
	}
	dims := [3]uint32{uint32(v.Dims[0]), uint32(v.Dims[1]), uint32(v.Dims[2])}
	if err := binary.Write(zw, binary.LittleEndian, dims); err != nil {
		return err
	}
	if _, err := zw.Write([]byte{4}); err != nil {
		return err
	}
	if err := binary.Write(zw, binary.LittleEndian, v.data); err != nil {
		return err
	}
	return zw.Close()
}
