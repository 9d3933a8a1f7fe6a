package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Locator
	}{
		{"indexed attribute", `objects["Cube"].location[0]`, Attribute("objects", "Cube", "location", 0)},
		{"scalar attribute", `cameras["Cam"].lens`, Attribute("cameras", "Cam", "lens", NoIndex)},
		{"dotted attribute", `objects['Camera'].data.lens`, Attribute("objects", "Camera", "data.lens", NoIndex)},
		{"node socket", `materials["Mat"].nodes["Mix"].inputs[2].default_value`, NodeSocket("materials", "Mat", "Mix", 2)},
		{"shape key", `objects['Face'].key_blocks['jawOpen'].value`, ShapeKeyValue("Face", "jawOpen")},
		{"euler bone", `objects["Rig"].pose.bones["head"].rotation_euler[2]`, BoneRotation("Rig", "head", RotationEuler, 2)},
		{"quaternion bone", `objects["Rig"].pose.bones["head"].rotation_quaternion[3]`, BoneRotation("Rig", "head", RotationQuaternion, 3)},
		{"timeline", "scene.frame_current", Timeline()},
		{"playback", " screen.is_animation_playing ", Playback()},
		{"escaped name", `objects["a \"b\""].scale[1]`, Attribute("objects", `a "b"`, "scale", 1)},
		{"modifier socket", `objects["Cube"].modifiers["GeometryNodes"]["Socket_2"]`, ModifierSocket("Cube", "GeometryNodes", "Socket_2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePath_HostPrefixedPaths(t *testing.T) {
	tests := []struct {
		path string
		want Locator
	}{
		{`bpy.data.objects['Cube'].location[0]`, Attribute("objects", "Cube", "location", 0)},
		{`bpy.data.cameras['Camera'].lens`, Attribute("cameras", "Camera", "lens", NoIndex)},
		{`bpy.context.scene.frame_current`, Timeline()},
		{`bpy.context.screen.is_animation_playing`, Playback()},
		{`bpy.data.materials['Mat'].node_tree.nodes["Mix"].inputs[0].default_value`, NodeSocket("materials", "Mat", "Mix", 0)},
		{`bpy.data.node_groups['Group'].nodes["Math"].inputs[1].default_value`, NodeSocket("node_groups", "Group", "Math", 1)},
		{`bpy.data.objects['Cube'].modifiers['GeometryNodes']['Socket_2']`, ModifierSocket("Cube", "GeometryNodes", "Socket_2")},
		{`bpy.data.shape_keys['Key'].key_blocks['jawOpen'].value`, Locator{Kind: KindShapeKey, Collection: "shape_keys", Name: "Key", ShapeKey: "jawOpen", Index: NoIndex}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePath_Invalid(t *testing.T) {
	for _, path := range []string{
		"",
		"objects",
		`objects[Cube].location`,
		`objects["Cube"]`,
		`objects["Cube"].location[x]`,
		`objects["Cube"].location[0] trailing`,
		`objects["Rig"].pose.bones["head"].rotation_euler[3]`,
		`objects["Rig"].pose.bones["head"].location[0]`,
		`materials["Mat"].nodes["Mix"].outputs[0].default_value`,
		`objects[""].location`,
		`objects["unterminated].location`,
		`bpy.context.object.location[0]`,
		`objects["Cube"].modifiers["GeometryNodes"]`,
		`objects["Cube"].modifiers["GeometryNodes"][2]`,
		`materials["Mat"].node_tree.links[0]`,
	} {
		t.Run(path, func(t *testing.T) {
			_, err := ParsePath(path)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestLocatorString_RoundTrips(t *testing.T) {
	locs := []Locator{
		Attribute("objects", "Cube", "location", 1),
		Attribute("cameras", "Cam", "lens", NoIndex),
		BoneRotation("Rig", "spine.001", RotationQuaternion, 0),
		NodeSocket("materials", "Glass", "Principled BSDF", 7),
		ShapeKeyValue("Face", "mouthSmileLeft"),
		ModifierSocket("Cube", "GeometryNodes", "Socket_2"),
		Timeline(),
		Playback(),
	}
	for _, loc := range locs {
		t.Run(loc.String(), func(t *testing.T) {
			got, err := ParsePath(loc.String())
			require.NoError(t, err)
			assert.Equal(t, loc, got)
		})
	}
}

func TestComponentIndex(t *testing.T) {
	idx, err := ComponentIndex(RotationEuler, "z")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	idx, err = ComponentIndex(RotationQuaternion, "W")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = ComponentIndex(RotationQuaternion, "z")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	_, err = ComponentIndex(RotationEuler, "w")
	assert.Error(t, err)
}

func TestParseRotationMode(t *testing.T) {
	m, err := ParseRotationMode("")
	require.NoError(t, err)
	assert.Equal(t, RotationEuler, m)

	m, err = ParseRotationMode("Quaternion")
	require.NoError(t, err)
	assert.Equal(t, RotationQuaternion, m)

	_, err = ParseRotationMode("axis_angle")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "shape_key", KindShapeKey.String())
	assert.Equal(t, "unknown(42)", Kind(42).String())
}
