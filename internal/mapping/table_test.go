package mapping

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/testutil"
)

func shapeKey(address, object, key string) Mapping {
	m := New(KindShapeKey, address)
	m.ShapeKey = &ShapeKeyTarget{Object: object, ShapeKey: key}
	return m
}

func TestTable_ResolveFanOutOrder(t *testing.T) {
	tbl := NewTable()
	a, err := tbl.Add(shapeKey("/smile", "Face", "mouthSmileLeft"))
	require.NoError(t, err)
	_, err = tbl.Add(shapeKey("/blink", "Face", "eyeBlinkLeft"))
	require.NoError(t, err)
	b, err := tbl.Add(shapeKey("/smile", "Face", "mouthSmileRight"))
	require.NoError(t, err)

	got := tbl.Snapshot().Resolve("/smile")
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)

	assert.Empty(t, tbl.Snapshot().Resolve("/Smile"), "matching is exact")
	assert.Empty(t, tbl.Snapshot().Resolve("/smile/"))
	assert.Equal(t, 2, tbl.Snapshot().Addresses())
}

func TestTable_AddAssignsIDAndCompiles(t *testing.T) {
	tbl := NewTable()
	m, err := tbl.Add(shapeKey("/jawOpen", "Face", "jawOpen"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)

	loc, err := m.Locator()
	require.NoError(t, err)
	assert.Equal(t, host.ShapeKeyValue("Face", "jawOpen"), loc)

	_, err = tbl.Add(Mapping{Kind: KindShapeKey, Address: "/bad"})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 1, tbl.Len())

	dup := shapeKey("/other", "Face", "jawLeft")
	dup.ID = m.ID
	_, err = tbl.Add(dup)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestTable_SnapshotIsStable(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(shapeKey("/a", "Face", "a"))
	require.NoError(t, err)

	snap := tbl.Snapshot()
	_, err = tbl.Add(shapeKey("/a", "Face", "b"))
	require.NoError(t, err)

	assert.Len(t, snap.Resolve("/a"), 1)
	assert.Len(t, tbl.Snapshot().Resolve("/a"), 2)
}

func TestTable_RemoveDuplicateGet(t *testing.T) {
	tbl := NewTable()
	first, err := tbl.Add(shapeKey("/a", "Face", "a"))
	require.NoError(t, err)
	second, err := tbl.Add(shapeKey("/b", "Face", "b"))
	require.NoError(t, err)

	copied, err := tbl.Duplicate(first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, copied.ID)
	assert.Equal(t, first.Address, copied.Address)
	assert.Equal(t, 3, tbl.Len())

	require.NoError(t, tbl.Remove(first.ID))
	_, ok := tbl.Get(first.ID)
	assert.False(t, ok)

	list := tbl.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, copied.ID, list[1].ID)

	assert.ErrorIs(t, tbl.Remove("nope"), ErrNotFound)
	_, err = tbl.Duplicate("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTable_ReplaceIsAllOrNothing(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Add(shapeKey("/a", "Face", "a"))
	require.NoError(t, err)

	err = tbl.Replace([]Mapping{shapeKey("/x", "Face", "x"), {Kind: KindBone, Address: "/y"}})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 1, tbl.Len())

	require.NoError(t, tbl.Replace(FacePreset("Face")))
	assert.Equal(t, len(FaceShapeKeys), tbl.Len())
}

func TestTable_AddAllIsAllOrNothing(t *testing.T) {
	tbl := NewTable()
	existing, err := tbl.Add(shapeKey("/a", "Face", "a"))
	require.NoError(t, err)

	bad := shapeKey("no-slash", "Face", "b")
	_, err = tbl.AddAll([]Mapping{shapeKey("/b", "Face", "b"), bad})
	require.Error(t, err)
	assert.Equal(t, 1, tbl.Len())

	clash := shapeKey("/c", "Face", "c")
	clash.ID = existing.ID
	_, err = tbl.AddAll([]Mapping{clash})
	assert.ErrorIs(t, err, ErrDuplicateID)

	added, err := tbl.AddAll(FacePreset("Face"))
	require.NoError(t, err)
	assert.Len(t, added, len(FaceShapeKeys))
	assert.Equal(t, 1+len(FaceShapeKeys), tbl.Len())
	assert.Equal(t, existing.ID, tbl.List()[0].ID)
}

func TestTable_OnChange(t *testing.T) {
	tbl := NewTable()
	var calls [][]Mapping
	tbl.OnChange(func(ms []Mapping) { calls = append(calls, ms) })

	m, err := tbl.Add(shapeKey("/a", "Face", "a"))
	require.NoError(t, err)
	_, err = tbl.Duplicate(m.ID)
	require.NoError(t, err)
	require.NoError(t, tbl.Remove(m.ID))

	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 1)
	assert.Len(t, calls[1], 2)
	assert.Len(t, calls[2], 1)
}

func TestTable_OnChangeDeliversLatestLast(t *testing.T) {
	tbl := NewTable()
	release := make(chan struct{})
	var calls atomic.Int32
	var mu sync.Mutex
	var saved []int
	tbl.OnChange(func(ms []Mapping) {
		if calls.Add(1) == 1 {
			<-release
		}
		mu.Lock()
		saved = append(saved, len(ms))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := tbl.Add(shapeKey("/a", "Face", "a"))
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := tbl.Add(shapeKey("/b", "Face", "b"))
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return tbl.Len() == 2 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, saved)
	assert.Equal(t, 2, saved[len(saved)-1], "saved sequence %v", saved)
	assert.IsIncreasing(t, saved)
}

func TestTable_ConcurrentEditsPersistFinalState(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	path := filepath.Join(dir, "mappings.yaml")

	tbl := NewTable()
	tbl.OnChange(func(ms []Mapping) {
		assert.NoError(t, SaveFile(path, ms))
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := tbl.Add(shapeKey("/a", "Face", "a"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 80)
	for i, m := range tbl.List() {
		assert.Equal(t, m.ID, loaded[i].ID)
	}
}

func TestTable_ConcurrentReadersAndWriters(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = tbl.Add(shapeKey("/a", "Face", "a"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tbl.Snapshot().Resolve("/a")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, tbl.Len())
}

func TestFacePreset(t *testing.T) {
	ms := FacePreset("HG_Body")
	require.Len(t, ms, 52)
	for _, m := range ms {
		require.NoError(t, m.Validate())
		assert.Equal(t, "/"+m.ShapeKey.ShapeKey, m.Address)
		assert.Equal(t, "HG_Body", m.ShapeKey.Object)
	}
}

func TestAddressFor(t *testing.T) {
	tests := []struct {
		loc  host.Locator
		want string
	}{
		{host.Attribute("objects", "Cube", "location", 0), "/Cube/location"},
		{host.Attribute("objects", "Camera", "data.lens", host.NoIndex), "/Camera/lens"},
		{host.Attribute("objects", "Cube", "hide_render", host.NoIndex), "/Cube/hiderender"},
		{host.NodeSocket("materials", "My Mat", "Principled BSDF", 0), "/MyMat/PrincipledBSDF"},
		{host.ShapeKeyValue("Face", "jaw_open"), "/Face/jawopen"},
		{host.ModifierSocket("Cube", "GeometryNodes", "Socket_2"), "/Cube/Socket2"},
		{host.Attribute("objects", "Mesh/Cube #1", "scale", 0), "/MeshCube1/scale"},
		{host.Attribute("objects", "{}", "scale", 0), "/object/scale"},
		{host.Timeline(), "/scene/framecurrent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AddressFor(tt.loc))
	}
}

func TestForPath(t *testing.T) {
	m, err := ForPath(`objects['Cube'].location[2]`)
	require.NoError(t, err)
	assert.Equal(t, "/Cube/location", m.Address)
	assert.Equal(t, `objects["Cube"].location[2]`, m.Property.DataPath)
	require.NoError(t, m.Validate())

	_, err = ForPath("???")
	assert.Error(t, err)
}

func TestForPath_HostPrefixedPath(t *testing.T) {
	m, err := ForPath(`bpy.data.objects['Cube'].location[0]`)
	require.NoError(t, err)
	assert.Equal(t, "/Cube/location", m.Address)
	assert.Equal(t, `objects["Cube"].location[0]`, m.Property.DataPath)

	m, err = ForPath(`bpy.data.objects['Cube'].modifiers["GeometryNodes"]["Socket_2"]`)
	require.NoError(t, err)
	assert.Equal(t, "/Cube/Socket2", m.Address)
	assert.Equal(t, `objects["Cube"].modifiers["GeometryNodes"]["Socket_2"]`, m.Property.DataPath)
	require.NoError(t, m.Validate())
}

func TestSaveLoadFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	path := filepath.Join(dir, "nested", "mappings.yaml")

	off := false
	bone := New(KindBone, "/head/yaw")
	bone.ID = "bone-1"
	bone.MinOut, bone.MaxOut = -1.5, 1.5
	bone.AutoKey = &off
	bone.Bone = &BoneTarget{Object: "Rig", Bone: "head", Mode: host.RotationEuler, Axis: "z"}

	want := []Mapping{shapeKey("/jawOpen", "Face", "jawOpen"), bone}
	require.NoError(t, SaveFile(path, want))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].ShapeKey, got[0].ShapeKey)
	assert.Equal(t, "bone-1", got[1].ID)
	assert.Equal(t, -1.5, got[1].MinOut)
	require.NotNil(t, got[1].AutoKey)
	assert.False(t, *got[1].AutoKey)
	assert.Equal(t, want[1].Bone, got[1].Bone)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadFile_Errors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := testutil.TempFile(t, dir, "bad.yaml", "mappings: [")
	_, err = LoadFile(bad)
	assert.Error(t, err)
}
