package mapping

import (
	"strings"

	"github.com/oscmap/oscmap/internal/host"
)

// FaceShapeKeys are the ARKit blendshape names sent by face capture apps.
var FaceShapeKeys = []string{
	"eyeLookUpLeft", "eyeLookUpRight", "eyeLookDownLeft", "eyeLookDownRight",
	"eyeLookInLeft", "eyeLookInRight", "eyeLookOutLeft", "eyeLookOutRight",
	"eyeBlinkLeft", "eyeBlinkRight", "eyeSquintLeft", "eyeSquintRight",
	"eyeWideLeft", "eyeWideRight", "jawForward", "jawLeft", "jawRight", "jawOpen",
	"mouthClose", "mouthFunnel", "mouthPucker", "mouthLeft", "mouthRight",
	"mouthSmileLeft", "mouthSmileRight", "mouthFrownLeft", "mouthFrownRight",
	"mouthDimpleLeft", "mouthDimpleRight", "mouthStretchLeft", "mouthStretchRight",
	"mouthRollLower", "mouthRollUpper", "mouthShrugUpper", "mouthShrugLower",
	"mouthPressLeft", "mouthPressRight", "mouthLowerDownLeft", "mouthLowerDownRight",
	"mouthUpperUpLeft", "mouthUpperUpRight", "browDownLeft", "browDownRight",
	"browInnerUp", "browOuterUpLeft", "browOuterUpRight", "cheekPuff",
	"cheekSquintLeft", "cheekSquintRight", "noseSneerLeft", "noseSneerRight",
	"tongueOut",
}

// FacePreset returns one shape key mapping per face blendshape on object,
// each listening on "/<name>".
func FacePreset(object string) []Mapping {
	out := make([]Mapping, 0, len(FaceShapeKeys))
	for _, sk := range FaceShapeKeys {
		m := New(KindShapeKey, "/"+sk)
		m.ShapeKey = &ShapeKeyTarget{Object: object, ShapeKey: sk}
		out = append(out, m)
	}
	return out
}

// AddressFor suggests an OSC address for a locator: "/<datablock>/<property>"
// with underscores and spaces removed from the property name. Characters OSC
// does not allow in an address part are dropped from the datablock name.
func AddressFor(loc host.Locator) string {
	var name, prop string
	switch loc.Kind {
	case host.KindObjectAttribute:
		name = loc.Name
		prop = loc.Attribute
		if i := strings.LastIndexByte(prop, '.'); i >= 0 {
			prop = prop[i+1:]
		}
	case host.KindBoneRotation:
		name, prop = loc.Name, loc.Bone
	case host.KindNodeSocket:
		name, prop = loc.Name, loc.Node
	case host.KindShapeKey:
		name, prop = loc.Name, loc.ShapeKey
	case host.KindModifierSocket:
		name, prop = loc.Name, loc.Socket
	case host.KindTimelineFrame:
		name, prop = "scene", "frame_current"
	case host.KindPlayback:
		name, prop = "screen", "is_animation_playing"
	default:
		name, prop = "object", "param"
	}
	clean := addressPart(strings.ReplaceAll(prop, "_", ""))
	if clean == "" {
		clean = "param"
	}
	target := addressPart(name)
	if target == "" {
		target = "object"
	}
	return "/" + target + "/" + clean
}

// addressPart drops the characters OSC 1.0 reserves in address patterns.
func addressPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '#', '*', ',', '/', '?', '[', ']', '{', '}':
			return -1
		}
		return r
	}, s)
}

// ForPath builds a property mapping for a data path with a suggested address.
func ForPath(dataPath string) (Mapping, error) {
	loc, err := host.ParsePath(dataPath)
	if err != nil {
		return Mapping{}, err
	}
	m := New(KindProperty, AddressFor(loc))
	m.Property = &PropertyTarget{DataPath: loc.String()}
	return m, nil
}
