package atlas

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2x2x2 volume holding regions 1 and 3; label 2 never occurs.
func testVolume(t *testing.T) *Volume {
	t.Helper()
	v, err := NewVolume([3]int{2, 2, 2}, []int32{0, 1, 1, 0, 3, 3, 0, 0})
	require.NoError(t, err)
	return v
}

func writeAtlas(t *testing.T, root, id string, labels map[string]string, centers map[string][]Point, vol *Volume) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	lb, err := json.Marshal(labels)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LabelsFile), lb, 0o644))
	cb, err := json.Marshal(centers)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, CentersFile), cb, 0o644))
	var buf bytes.Buffer
	require.NoError(t, EncodeVolume(&buf, vol))
	require.NoError(t, os.WriteFile(filepath.Join(dir, VolumeFile), buf.Bytes(), 0o644))
}

func TestVolume_RoundTripAndLookup(t *testing.T) {
	v := testVolume(t)
	var buf bytes.Buffer
	require.NoError(t, EncodeVolume(&buf, v))

	got, err := DecodeVolume(&buf)
	require.NoError(t, err)
	assert.Equal(t, v.Dims, got.Dims)

	val, ok := got.At(1, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, 1, val)
	val, ok = got.At(0, 0, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, val)

	_, ok = got.At(2, 0, 0)
	assert.False(t, ok)
	assert.False(t, got.InBounds(-1, 0, 0))
}

func TestDecodeVolume_RejectsGarbage(t *testing.T) {
	_, err := DecodeVolume(bytes.NewReader([]byte("plain text")))
	assert.Error(t, err)
}

// volumeHeader returns a gzip stream holding only a volume header.
func volumeHeader(t *testing.T, dims [3]uint32, width byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(volumeMagic))
	require.NoError(t, err)
	require.NoError(t, binary.Write(zw, binary.LittleEndian, dims))
	_, err = zw.Write([]byte{width})
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeVolume_RejectsOversizedHeader(t *testing.T) {
	cases := []struct {
		name  string
		dims  [3]uint32
		width byte
		want  string
	}{
		{"huge axes", [3]uint32{1 << 31, 1 << 31, 1 << 31}, 4, "invalid volume dims"},
		{"zero axis", [3]uint32{182, 0, 182}, 4, "invalid volume dims"},
		{"too many voxels", [3]uint32{maxVolumeDim, maxVolumeDim, maxVolumeDim}, 1, "exceeds"},
		{"bad width", [3]uint32{2, 2, 2}, 3, "unsupported voxel width"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeVolume(bytes.NewReader(volumeHeader(t, tc.dims, tc.width)))
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestBuild_UsesObservedLabels(t *testing.T) {
	labels := map[string]string{"1": "Hippocampus", "2": "Amygdala", "3": "Thalamus", "x": "bogus", "-4": "neg"}
	a, err := Build("aal", labels, nil, testVolume(t))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, a.Regions)
	assert.True(t, a.HasRegion(3))
	assert.False(t, a.HasRegion(2))
}

func TestBuild_FallsBackToLabelKeys(t *testing.T) {
	vol, err := NewVolume([3]int{1, 1, 2}, []int32{0, 9})
	require.NoError(t, err)
	a, err := Build("aal", map[string]string{"2": "a", "5": "b", "0": "bg"}, nil, vol)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, a.Regions)
}

func TestBuild_NoValidRegions(t *testing.T) {
	_, err := Build("aal", map[string]string{"bg": "background"}, nil, testVolume(t))
	assert.True(t, errors.Is(err, ErrNoValidRegions))
}

func TestCatalog_LoadAll(t *testing.T) {
	root := t.TempDir()
	writeAtlas(t, root, "aal",
		map[string]string{"1": "Hippocampus", "3": "Thalamus"},
		map[string][]Point{"1": {{1, 2, 3}}, "3": {{0, 0, 0}, {10, 10, 10}}},
		testVolume(t))

	c := NewCatalog(DirSource{Root: root}, nil)
	loaded := c.LoadAll(context.Background(), []string{"aal", "missing"})
	assert.Equal(t, 1, loaded)

	assert.Equal(t, []int{1, 3}, c.ValidRegions("aal"))
	assert.Len(t, c.Centers("aal", 3), 2)
	assert.Empty(t, c.ValidRegions("missing"))
	assert.Empty(t, c.Centers("missing", 1))

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Thalamus", list[0].Regions[3])
}

type failingSource struct{}

func (failingSource) Open(context.Context, string, string) (io.ReadCloser, error) {
	return nil, errors.New("bucket unreachable")
}

func TestCachedSource_FallsBackToCache(t *testing.T) {
	primary := t.TempDir()
	cacheDir := t.TempDir()
	writeAtlas(t, primary, "aal", map[string]string{"1": "Hippocampus"}, nil, testVolume(t))

	warm := CachedSource{Primary: DirSource{Root: primary}, Dir: cacheDir}
	c := NewCatalog(warm, nil)
	require.NoError(t, c.Load(context.Background(), "aal"))
	assert.FileExists(t, filepath.Join(cacheDir, "aal", VolumeFile))

	cold := CachedSource{Primary: failingSource{}, Dir: cacheDir}
	c2 := NewCatalog(cold, nil)
	require.NoError(t, c2.Load(context.Background(), "aal"))
	assert.Equal(t, []int{1}, c2.ValidRegions("aal"))

	empty := CachedSource{Primary: failingSource{}, Dir: t.TempDir()}
	assert.Error(t, NewCatalog(empty, nil).Load(context.Background(), "aal"))
}
