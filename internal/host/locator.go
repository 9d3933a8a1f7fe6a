// Package host defines how the dispatch cycle addresses and writes numeric
// properties in the host application, plus an in-memory reference store.
package host

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Locator.
type Kind int

const (
	// KindObjectAttribute is a float/int/bool attribute of a datablock, optionally indexed.
	KindObjectAttribute Kind = iota
	// KindBoneRotation is one component of a pose bone's rotation.
	KindBoneRotation
	// KindNodeSocket is the default value of a node input socket.
	KindNodeSocket
	// KindShapeKey is the value of a shape key.
	KindShapeKey
	// KindTimelineFrame is the current frame of the timeline.
	KindTimelineFrame
	// KindPlayback toggles timeline playback.
	KindPlayback
	// KindModifierSocket is an exposed input of a geometry nodes modifier.
	KindModifierSocket
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindObjectAttribute:
		return "object_attribute"
	case KindBoneRotation:
		return "bone_rotation"
	case KindNodeSocket:
		return "node_socket"
	case KindShapeKey:
		return "shape_key"
	case KindTimelineFrame:
		return "timeline_frame"
	case KindPlayback:
		return "playback"
	case KindModifierSocket:
		return "modifier_socket"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// RotationMode selects which rotation representation a bone locator writes.
type RotationMode string

const (
	RotationEuler      RotationMode = "euler"
	RotationQuaternion RotationMode = "quaternion"
)

// ParseRotationMode parses a rotation mode; empty means euler.
func ParseRotationMode(s string) (RotationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "euler":
		return RotationEuler, nil
	case "quaternion", "quat":
		return RotationQuaternion, nil
	default:
		return "", fmt.Errorf("unknown rotation mode %q", s)
	}
}

// ComponentIndex maps an axis name to the component index for a rotation mode.
// Euler uses x,y,z → 0,1,2; quaternion uses w,x,y,z → 0,1,2,3.
func ComponentIndex(mode RotationMode, axis string) (int, error) {
	a := strings.ToLower(strings.TrimSpace(axis))
	if mode == RotationQuaternion {
		switch a {
		case "w":
			return 0, nil
		case "x":
			return 1, nil
		case "y":
			return 2, nil
		case "z":
			return 3, nil
		}
		return 0, fmt.Errorf("invalid quaternion axis %q", axis)
	}
	switch a {
	case "", "x":
		return 0, nil
	case "y":
		return 1, nil
	case "z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid euler axis %q", axis)
}

// NoIndex marks a scalar (non-array) attribute.
const NoIndex = -1

const (
	timelinePath = "scene.frame_current"
	playbackPath = "screen.is_animation_playing"
)

// Locator is a resolved address of one float-settable property.
// Which fields are meaningful depends on Kind.
type Locator struct {
	Kind       Kind         `json:"kind"`
	Collection string       `json:"collection,omitempty"`
	Name       string       `json:"name,omitempty"`
	Attribute  string       `json:"attribute,omitempty"`
	Index      int          `json:"index"`
	Bone       string       `json:"bone,omitempty"`
	Mode       RotationMode `json:"mode,omitempty"`
	Node       string       `json:"node,omitempty"`
	ShapeKey   string       `json:"shape_key,omitempty"`
	Modifier   string       `json:"modifier,omitempty"`
	Socket     string       `json:"socket,omitempty"`
}

// Attribute addresses collection[name].attr, or attr[index] when index >= 0.
func Attribute(collection, name, attr string, index int) Locator {
	return Locator{Kind: KindObjectAttribute, Collection: collection, Name: name, Attribute: attr, Index: index}
}

// BoneRotation addresses one rotation component of a pose bone on an object.
func BoneRotation(object, bone string, mode RotationMode, component int) Locator {
	return Locator{Kind: KindBoneRotation, Collection: "objects", Name: object, Bone: bone, Mode: mode, Index: component}
}

// NodeSocket addresses the default value of input socket index on a node.
func NodeSocket(collection, name, node string, input int) Locator {
	return Locator{Kind: KindNodeSocket, Collection: collection, Name: name, Node: node, Index: input}
}

// ShapeKeyValue addresses a shape key on an object.
func ShapeKeyValue(object, key string) Locator {
	return Locator{Kind: KindShapeKey, Collection: "objects", Name: object, ShapeKey: key, Index: NoIndex}
}

// ModifierSocket addresses the input socket of a modifier on an object.
func ModifierSocket(object, modifier, socket string) Locator {
	return Locator{Kind: KindModifierSocket, Collection: "objects", Name: object, Modifier: modifier, Socket: socket, Index: NoIndex}
}

// Timeline addresses the current timeline frame.
func Timeline() Locator {
	return Locator{Kind: KindTimelineFrame, Index: NoIndex}
}

// Playback addresses the play/pause state of the timeline.
func Playback() Locator {
	return Locator{Kind: KindPlayback, Index: NoIndex}
}

// String renders the canonical data path; ParsePath(l.String()) returns l.
func (l Locator) String() string {
	switch l.Kind {
	case KindObjectAttribute:
		s := fmt.Sprintf("%s[%q].%s", l.Collection, l.Name, l.Attribute)
		if l.Index >= 0 {
			s += fmt.Sprintf("[%d]", l.Index)
		}
		return s
	case KindBoneRotation:
		prop := "rotation_euler"
		if l.Mode == RotationQuaternion {
			prop = "rotation_quaternion"
		}
		return fmt.Sprintf("%s[%q].pose.bones[%q].%s[%d]", l.Collection, l.Name, l.Bone, prop, l.Index)
	case KindNodeSocket:
		return fmt.Sprintf("%s[%q].nodes[%q].inputs[%d].default_value", l.Collection, l.Name, l.Node, l.Index)
	case KindShapeKey:
		return fmt.Sprintf("%s[%q].key_blocks[%q].value", l.Collection, l.Name, l.ShapeKey)
	case KindModifierSocket:
		return fmt.Sprintf("%s[%q].modifiers[%q][%q]", l.Collection, l.Name, l.Modifier, l.Socket)
	case KindTimelineFrame:
		return timelinePath
	case KindPlayback:
		return playbackPath
	default:
		return "<invalid locator>"
	}
}

// ErrInvalidPath is returned by ParsePath for unrecognised data paths.
var ErrInvalidPath = errors.New("invalid data path")

// ParsePath resolves a data path string into a Locator.
//
// Accepted forms:
//
//	objects["Cube"].location[0]
//	cameras["Cam"].lens
//	objects["Camera"].data.lens
//	materials["Mat"].nodes["Mix"].inputs[0].default_value
//	materials["Mat"].node_tree.nodes["Mix"].inputs[0].default_value
//	objects["Face"].key_blocks["jawOpen"].value
//	objects["Rig"].pose.bones["head"].rotation_euler[2]
//	objects["Cube"].modifiers["GeometryNodes"]["Socket_2"]
//	scene.frame_current
//	screen.is_animation_playing
//
// Any of them may carry a "bpy.data." or "bpy.context." prefix, which is
// dropped. Names may be quoted with single or double quotes.
func ParsePath(path string) (Locator, error) {
	s := strings.TrimSpace(path)
	for _, prefix := range pathPrefixes {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	p := &pathParser{s: s}
	switch p.s {
	case timelinePath:
		return Timeline(), nil
	case playbackPath:
		return Playback(), nil
	case "":
		return Locator{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	loc, err := p.parse()
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
	}
	if p.pos != len(p.s) {
		return Locator{}, fmt.Errorf("%w: %q: unexpected %q at offset %d", ErrInvalidPath, path, p.s[p.pos:], p.pos)
	}
	return loc, nil
}

var pathPrefixes = []string{"bpy.data.", "bpy.context."}

type pathParser struct {
	s   string
	pos int
}

func (p *pathParser) parse() (Locator, error) {
	collection, err := p.ident()
	if err != nil {
		return Locator{}, err
	}
	name, err := p.subscriptName()
	if err != nil {
		return Locator{}, err
	}
	if err := p.expect('.'); err != nil {
		return Locator{}, err
	}
	seg, err := p.ident()
	if err != nil {
		return Locator{}, err
	}
	if seg == "node_tree" {
		if err := p.literal(".nodes"); err != nil {
			return Locator{}, err
		}
		seg = "nodes"
	}

	switch seg {
	case "modifiers":
		modifier, err := p.subscriptName()
		if err != nil {
			return Locator{}, err
		}
		socket, err := p.subscriptName()
		if err != nil {
			return Locator{}, err
		}
		loc := ModifierSocket(name, modifier, socket)
		loc.Collection = collection
		return loc, nil

	case "nodes":
		node, err := p.subscriptName()
		if err != nil {
			return Locator{}, err
		}
		if err := p.literal(".inputs"); err != nil {
			return Locator{}, err
		}
		input, err := p.subscriptIndex()
		if err != nil {
			return Locator{}, err
		}
		if err := p.literal(".default_value"); err != nil {
			return Locator{}, err
		}
		return NodeSocket(collection, name, node, input), nil

	case "key_blocks":
		key, err := p.subscriptName()
		if err != nil {
			return Locator{}, err
		}
		if err := p.literal(".value"); err != nil {
			return Locator{}, err
		}
		loc := ShapeKeyValue(name, key)
		loc.Collection = collection
		return loc, nil

	case "pose":
		if err := p.literal(".bones"); err != nil {
			return Locator{}, err
		}
		bone, err := p.subscriptName()
		if err != nil {
			return Locator{}, err
		}
		if err := p.expect('.'); err != nil {
			return Locator{}, err
		}
		prop, err := p.ident()
		if err != nil {
			return Locator{}, err
		}
		var mode RotationMode
		limit := 3
		switch prop {
		case "rotation_euler":
			mode = RotationEuler
		case "rotation_quaternion":
			mode = RotationQuaternion
			limit = 4
		default:
			return Locator{}, fmt.Errorf("unsupported bone property %q", prop)
		}
		idx, err := p.subscriptIndex()
		if err != nil {
			return Locator{}, err
		}
		if idx >= limit {
			return Locator{}, fmt.Errorf("%s index %d out of range", prop, idx)
		}
		loc := BoneRotation(name, bone, mode, idx)
		loc.Collection = collection
		return loc, nil

	default:
		attr := seg
		for p.peek('.') {
			p.pos++
			next, err := p.ident()
			if err != nil {
				return Locator{}, err
			}
			attr += "." + next
		}
		index := NoIndex
		if p.peek('[') {
			if index, err = p.subscriptIndex(); err != nil {
				return Locator{}, err
			}
		}
		return Attribute(collection, name, attr, index), nil
	}
}

func (p *pathParser) peek(c byte) bool {
	return p.pos < len(p.s) && p.s[p.pos] == c
}

func (p *pathParser) expect(c byte) error {
	if !p.peek(c) {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *pathParser) literal(lit string) error {
	if !strings.HasPrefix(p.s[p.pos:], lit) {
		return fmt.Errorf("expected %q at offset %d", lit, p.pos)
	}
	p.pos += len(lit)
	return nil
}

func (p *pathParser) ident() (string, error) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9' && p.pos > start) {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at offset %d", start)
	}
	return p.s[start:p.pos], nil
}

func (p *pathParser) subscriptName() (string, error) {
	if err := p.expect('['); err != nil {
		return "", err
	}
	if p.pos >= len(p.s) {
		return "", fmt.Errorf("unterminated subscript")
	}

	var name string
	switch quote := p.s[p.pos]; quote {
	case '\'':
		end := strings.IndexByte(p.s[p.pos+1:], '\'')
		if end < 0 {
			return "", fmt.Errorf("unterminated quoted name at offset %d", p.pos)
		}
		name = p.s[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
	case '"':
		end := p.pos + 1
		for end < len(p.s) && p.s[end] != '"' {
			if p.s[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.s) {
			return "", fmt.Errorf("unterminated quoted name at offset %d", p.pos)
		}
		unquoted, err := strconv.Unquote(p.s[p.pos : end+1])
		if err != nil {
			return "", fmt.Errorf("bad quoted name at offset %d: %w", p.pos, err)
		}
		name = unquoted
		p.pos = end + 1
	default:
		return "", fmt.Errorf("expected quoted name at offset %d", p.pos)
	}

	if name == "" {
		return "", fmt.Errorf("empty name")
	}
	if err := p.expect(']'); err != nil {
		return "", err
	}
	return name, nil
}

func (p *pathParser) subscriptIndex() (int, error) {
	if err := p.expect('['); err != nil {
		return 0, err
	}
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("expected index at offset %d", start)
	}
	idx, err := strconv.Atoi(p.s[start:p.pos])
	if err != nil {
		return 0, err
	}
	if err := p.expect(']'); err != nil {
		return 0, err
	}
	return idx, nil
}
