package host

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// PropertyKind is the storage type of an attribute.
type PropertyKind string

const (
	PropertyFloat PropertyKind = "float"
	PropertyInt   PropertyKind = "int"
	PropertyBool  PropertyKind = "bool"
)

// coerce converts a remapped float into the storage type of the property.
func (k PropertyKind) coerce(v float64) float64 {
	switch k {
	case PropertyInt:
		return math.Round(v)
	case PropertyBool:
		if v > 0.5 {
			return 1
		}
		return 0
	default:
		return v
	}
}

// Property is an attribute value: one element for scalars, more for vectors.
type Property struct {
	Kind   PropertyKind `yaml:"kind,omitempty" json:"kind"`
	Values []float64    `yaml:"values" json:"values"`
	Scalar bool         `yaml:"scalar,omitempty" json:"scalar,omitempty"`
}

// BoneState holds both rotation representations of a pose bone.
type BoneState struct {
	Euler      [3]float64 `yaml:"euler" json:"euler"`
	Quaternion [4]float64 `yaml:"quaternion" json:"quaternion"`
}

// Block is one datablock (object, material, camera, ...) of the scene.
type Block struct {
	Collection string                `yaml:"collection" json:"collection"`
	Name       string                `yaml:"name" json:"name"`
	Properties map[string]*Property  `yaml:"properties,omitempty" json:"properties,omitempty"`
	Bones      map[string]*BoneState `yaml:"bones,omitempty" json:"bones,omitempty"`
	ShapeKeys  map[string]float64    `yaml:"shape_keys,omitempty" json:"shape_keys,omitempty"`
	Nodes      map[string][]float64  `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	// Modifiers holds modifier input sockets by modifier then socket name.
	Modifiers map[string]map[string]*Property `yaml:"modifiers,omitempty" json:"modifiers,omitempty"`
}

// Scene is the serialisable state of a MemoryStore.
type Scene struct {
	Frame     float64  `yaml:"frame" json:"frame"`
	Playing   bool     `yaml:"playing" json:"playing"`
	Refreshes uint64   `yaml:"-" json:"refreshes"`
	Blocks    []*Block `yaml:"blocks" json:"blocks"`
}

type blockKey struct {
	collection string
	name       string
}

// MemoryStore is an in-process Store. Writes and reads are goroutine-safe so
// the admin surface can snapshot it while the cycle writes.
type MemoryStore struct {
	mu        sync.RWMutex
	blocks    map[blockKey]*Block
	frame     float64
	playing   bool
	refreshes atomic.Uint64
}

// NewMemoryStore returns an empty store at frame 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[blockKey]*Block),
		frame:  1,
	}
}

// LoadScene reads a scene YAML file into a new MemoryStore.
func LoadScene(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	var scene Scene
	if err := yaml.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("parse scene file: %w", err)
	}

	s := NewMemoryStore()
	if scene.Frame != 0 {
		s.frame = math.Round(scene.Frame)
	}
	s.playing = scene.Playing
	for i, b := range scene.Blocks {
		if b == nil || b.Collection == "" || b.Name == "" {
			return nil, fmt.Errorf("scene block %d: collection and name are required", i)
		}
		blk := s.block(b.Collection, b.Name)
		for attr, p := range b.Properties {
			if p == nil || len(p.Values) == 0 {
				return nil, fmt.Errorf("scene block %s[%q]: property %s has no values", b.Collection, b.Name, attr)
			}
			kind := p.Kind
			if kind == "" {
				kind = PropertyFloat
			}
			blk.Properties[attr] = &Property{Kind: kind, Values: append([]float64(nil), p.Values...), Scalar: p.Scalar}
		}
		for name, bs := range b.Bones {
			st := &BoneState{}
			if bs != nil {
				*st = *bs
			}
			if st.Quaternion == [4]float64{} {
				st.Quaternion[0] = 1
			}
			blk.Bones[name] = st
		}
		for name, v := range b.ShapeKeys {
			blk.ShapeKeys[name] = v
		}
		for name, inputs := range b.Nodes {
			blk.Nodes[name] = append([]float64(nil), inputs...)
		}
		for mod, sockets := range b.Modifiers {
			for socket, p := range sockets {
				if p == nil || len(p.Values) != 1 {
					return nil, fmt.Errorf("scene block %s[%q]: modifier socket %s/%s needs exactly one value", b.Collection, b.Name, mod, socket)
				}
				kind := p.Kind
				if kind == "" {
					kind = PropertyFloat
				}
				blk.modifier(mod)[socket] = &Property{Kind: kind, Values: []float64{p.Values[0]}, Scalar: true}
			}
		}
	}
	return s, nil
}

func (s *MemoryStore) block(collection, name string) *Block {
	k := blockKey{collection, name}
	b, ok := s.blocks[k]
	if !ok {
		b = &Block{
			Collection: collection,
			Name:       name,
			Properties: make(map[string]*Property),
			Bones:      make(map[string]*BoneState),
			ShapeKeys:  make(map[string]float64),
			Nodes:      make(map[string][]float64),
			Modifiers:  make(map[string]map[string]*Property),
		}
		s.blocks[k] = b
	}
	return b
}

func (b *Block) modifier(name string) map[string]*Property {
	sockets, ok := b.Modifiers[name]
	if !ok {
		sockets = make(map[string]*Property)
		b.Modifiers[name] = sockets
	}
	return sockets
}

// SetProperty creates or replaces an attribute. A single value makes a scalar.
func (s *MemoryStore) SetProperty(collection, name, attr string, kind PropertyKind, values ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block(collection, name).Properties[attr] = &Property{
		Kind:   kind,
		Values: append([]float64(nil), values...),
		Scalar: len(values) == 1,
	}
}

// AddBone creates a pose bone on an object with identity rotation.
func (s *MemoryStore) AddBone(object, bone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block("objects", object).Bones[bone] = &BoneState{Quaternion: [4]float64{1, 0, 0, 0}}
}

// AddShapeKey creates a shape key on an object.
func (s *MemoryStore) AddShapeKey(object, key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block("objects", object).ShapeKeys[key] = value
}

// AddNode creates a node with the given input socket default values.
func (s *MemoryStore) AddNode(collection, name, node string, inputs ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block(collection, name).Nodes[node] = append([]float64(nil), inputs...)
}

// AddModifierSocket creates a typed input socket on an object's modifier.
func (s *MemoryStore) AddModifierSocket(object, modifier, socket string, kind PropertyKind, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block("objects", object).modifier(modifier)[socket] = &Property{Kind: kind, Values: []float64{value}, Scalar: true}
}

// RemoveBlock deletes a datablock, leaving any mapping that targets it stale.
func (s *MemoryStore) RemoveBlock(collection, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey{collection, name})
}

// SetPlaying starts or stops timeline playback.
func (s *MemoryStore) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
}

// Set implements Store.
func (s *MemoryStore) Set(loc Locator, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fail := func(err error) error { return &TargetError{Locator: loc, Err: err} }

	switch loc.Kind {
	case KindTimelineFrame:
		if !s.playing {
			s.frame = math.Round(value)
		}
		return nil
	case KindPlayback:
		s.playing = value > 0.5
		return nil
	}

	blk, ok := s.blocks[blockKey{loc.Collection, loc.Name}]
	if !ok {
		return fail(ErrTargetNotFound)
	}

	switch loc.Kind {
	case KindObjectAttribute:
		p, ok := blk.Properties[loc.Attribute]
		if !ok {
			return fail(ErrTargetNotFound)
		}
		idx := loc.Index
		if idx == NoIndex {
			if !p.Scalar && len(p.Values) != 1 {
				return fail(fmt.Errorf("%w: %s is an array", ErrIndexOutOfRange, loc.Attribute))
			}
			idx = 0
		}
		if idx < 0 || idx >= len(p.Values) {
			return fail(ErrIndexOutOfRange)
		}
		p.Values[idx] = p.Kind.coerce(value)

	case KindBoneRotation:
		b, ok := blk.Bones[loc.Bone]
		if !ok {
			return fail(ErrTargetNotFound)
		}
		if loc.Mode == RotationQuaternion {
			if loc.Index < 0 || loc.Index >= len(b.Quaternion) {
				return fail(ErrIndexOutOfRange)
			}
			b.Quaternion[loc.Index] = value
		} else {
			if loc.Index < 0 || loc.Index >= len(b.Euler) {
				return fail(ErrIndexOutOfRange)
			}
			b.Euler[loc.Index] = value
		}

	case KindNodeSocket:
		inputs, ok := blk.Nodes[loc.Node]
		if !ok {
			return fail(ErrTargetNotFound)
		}
		if loc.Index < 0 || loc.Index >= len(inputs) {
			return fail(ErrIndexOutOfRange)
		}
		inputs[loc.Index] = value

	case KindShapeKey:
		if _, ok := blk.ShapeKeys[loc.ShapeKey]; !ok {
			return fail(ErrTargetNotFound)
		}
		blk.ShapeKeys[loc.ShapeKey] = value

	case KindModifierSocket:
		p, ok := blk.Modifiers[loc.Modifier][loc.Socket]
		if !ok {
			return fail(ErrTargetNotFound)
		}
		p.Values[0] = p.Kind.coerce(value)

	default:
		return fail(fmt.Errorf("unsupported locator kind %s", loc.Kind))
	}
	return nil
}

// Get reads the current value at a locator.
func (s *MemoryStore) Get(loc Locator) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch loc.Kind {
	case KindTimelineFrame:
		return s.frame, nil
	case KindPlayback:
		if s.playing {
			return 1, nil
		}
		return 0, nil
	}

	notFound := &TargetError{Locator: loc, Err: ErrTargetNotFound}
	blk, ok := s.blocks[blockKey{loc.Collection, loc.Name}]
	if !ok {
		return 0, notFound
	}
	switch loc.Kind {
	case KindObjectAttribute:
		p, ok := blk.Properties[loc.Attribute]
		if !ok {
			return 0, notFound
		}
		idx := max(loc.Index, 0)
		if idx >= len(p.Values) {
			return 0, &TargetError{Locator: loc, Err: ErrIndexOutOfRange}
		}
		return p.Values[idx], nil
	case KindBoneRotation:
		b, ok := blk.Bones[loc.Bone]
		if !ok {
			return 0, notFound
		}
		if loc.Mode == RotationQuaternion && loc.Index >= 0 && loc.Index < 4 {
			return b.Quaternion[loc.Index], nil
		}
		if loc.Mode != RotationQuaternion && loc.Index >= 0 && loc.Index < 3 {
			return b.Euler[loc.Index], nil
		}
		return 0, &TargetError{Locator: loc, Err: ErrIndexOutOfRange}
	case KindNodeSocket:
		inputs, ok := blk.Nodes[loc.Node]
		if !ok {
			return 0, notFound
		}
		if loc.Index < 0 || loc.Index >= len(inputs) {
			return 0, &TargetError{Locator: loc, Err: ErrIndexOutOfRange}
		}
		return inputs[loc.Index], nil
	case KindShapeKey:
		v, ok := blk.ShapeKeys[loc.ShapeKey]
		if !ok {
			return 0, notFound
		}
		return v, nil
	case KindModifierSocket:
		p, ok := blk.Modifiers[loc.Modifier][loc.Socket]
		if !ok {
			return 0, notFound
		}
		return p.Values[0], nil
	}
	return 0, notFound
}

// Refresh implements Store.
func (s *MemoryStore) Refresh() {
	s.refreshes.Add(1)
}

// Refreshes returns how many times Refresh has been called.
func (s *MemoryStore) Refreshes() uint64 {
	return s.refreshes.Load()
}

// CurrentFrame implements Store.
func (s *MemoryStore) CurrentFrame() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Playing reports whether timeline playback is active.
func (s *MemoryStore) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// Snapshot returns a deep copy of the store, blocks sorted by collection then name.
func (s *MemoryStore) Snapshot() Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scene := Scene{
		Frame:     s.frame,
		Playing:   s.playing,
		Refreshes: s.refreshes.Load(),
		Blocks:    make([]*Block, 0, len(s.blocks)),
	}
	for _, b := range s.blocks {
		cp := &Block{
			Collection: b.Collection,
			Name:       b.Name,
			Properties: make(map[string]*Property, len(b.Properties)),
			Bones:      make(map[string]*BoneState, len(b.Bones)),
			ShapeKeys:  make(map[string]float64, len(b.ShapeKeys)),
			Nodes:      make(map[string][]float64, len(b.Nodes)),
			Modifiers:  make(map[string]map[string]*Property, len(b.Modifiers)),
		}
		for k, p := range b.Properties {
			cp.Properties[k] = &Property{Kind: p.Kind, Values: append([]float64(nil), p.Values...), Scalar: p.Scalar}
		}
		for k, bs := range b.Bones {
			st := *bs
			cp.Bones[k] = &st
		}
		for k, v := range b.ShapeKeys {
			cp.ShapeKeys[k] = v
		}
		for k, v := range b.Nodes {
			cp.Nodes[k] = append([]float64(nil), v...)
		}
		for mod, sockets := range b.Modifiers {
			out := make(map[string]*Property, len(sockets))
			for name, p := range sockets {
				out[name] = &Property{Kind: p.Kind, Values: append([]float64(nil), p.Values...), Scalar: p.Scalar}
			}
			cp.Modifiers[mod] = out
		}
		scene.Blocks = append(scene.Blocks, cp)
	}
	sort.Slice(scene.Blocks, func(i, j int) bool {
		if scene.Blocks[i].Collection != scene.Blocks[j].Collection {
			return scene.Blocks[i].Collection < scene.Blocks[j].Collection
		}
		return scene.Blocks[i].Name < scene.Blocks[j].Name
	})
	return scene
}
