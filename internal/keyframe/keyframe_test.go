package keyframe

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/testutil"
)

func exerciseRecorder(t *testing.T, r Recorder) {
	t.Helper()

	jaw := host.ShapeKeyValue("Face", "jawOpen")
	head := host.BoneRotation("Rig", "head", host.RotationEuler, 2)

	require.NoError(t, r.Record(jaw, 0.2, 10))
	require.NoError(t, r.Record(jaw, 0.4, 2))
	require.NoError(t, r.Record(jaw, 0.9, 10))
	require.NoError(t, r.Record(jaw, 0.1, -3))
	require.NoError(t, r.Record(head, 1.2, 1))

	keys, err := r.Keyframes(jaw)
	require.NoError(t, err)
	assert.Equal(t, []Keyframe{
		{Frame: -3, Value: 0.1},
		{Frame: 2, Value: 0.4},
		{Frame: 10, Value: 0.9},
	}, keys)

	keys, err = r.Keyframes(host.ShapeKeyValue("Face", "jawLeft"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	targets, err := r.Targets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{jaw.String(), head.String()}, targets)
}

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()
	exerciseRecorder(t, s)
	assert.NoError(t, s.Close())
}

func TestBadgerSink(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	s, err := OpenBadger(filepath.Join(dir, "kf"))
	require.NoError(t, err)
	exerciseRecorder(t, s)
	require.NoError(t, s.Close())
}

func TestBadgerSink_PersistsAcrossOpen(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	path := filepath.Join(dir, "kf")
	loc := host.Attribute("objects", "Cube", "location", 0)

	s, err := OpenBadger(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(loc, 3.5, 24))
	require.NoError(t, s.Close())

	s, err = OpenBadger(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	keys, err := s.Keyframes(loc)
	require.NoError(t, err)
	assert.Equal(t, []Keyframe{{Frame: 24, Value: 3.5}}, keys)
}

func TestBadgerSink_RecordAfterCloseFails(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	s, err := OpenBadger(filepath.Join(dir, "kf"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	loc := host.ShapeKeyValue("Face", "jawOpen")
	err = s.Record(loc, 1, 1)
	require.Error(t, err)

	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, loc, kerr.Target)
}

func TestFrameEncodingPreservesOrder(t *testing.T) {
	frames := []float64{math.Inf(-1), -1000.5, -1, -0.25, 0, 0.25, 1, 250, 1e9, math.Inf(1)}
	for i := 1; i < len(frames); i++ {
		assert.Less(t, encodeFrame(frames[i-1]), encodeFrame(frames[i]), "%v < %v", frames[i-1], frames[i])
	}
	for _, f := range frames {
		assert.Equal(t, f, decodeFrame(encodeFrame(f)))
	}
}

func TestOpen(t *testing.T) {
	r, err := Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemorySink{}, r)

	_, err = Open("tape", "")
	assert.Error(t, err)

	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	r, err = Open(BackendBadger, dir)
	require.NoError(t, err)
	assert.IsType(t, &BadgerSink{}, r)
	require.NoError(t, r.Close())
}
