// Package mapping holds the address → target mapping rules, their linear
// remapping, and the goroutine-safe table the dispatch cycle snapshots.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oscmap/oscmap/internal/codec"
	"github.com/oscmap/oscmap/internal/host"
)

var (
	// ErrMissingArgument means the message has no argument at the mapping's index.
	ErrMissingArgument = errors.New("missing argument")
	// ErrNonNumeric means the selected argument is a string, blob or other non-number.
	ErrNonNumeric = errors.New("argument is not numeric")
	// ErrDegenerateRange means min_in == max_in, so the input range has no width.
	ErrDegenerateRange = errors.New("degenerate input range")
	// ErrInvalid is wrapped by every Validate failure.
	ErrInvalid = errors.New("invalid mapping")
)

// Kind is the target variant of a mapping.
type Kind string

const (
	KindShapeKey Kind = "shape_key"
	KindBone     Kind = "bone"
	KindProperty Kind = "property"
)

// ShapeKeyTarget drives a shape key on a mesh object.
type ShapeKeyTarget struct {
	Object   string `yaml:"object" json:"object"`
	ShapeKey string `yaml:"shape_key" json:"shape_key"`
}

// BoneTarget drives one rotation component of a pose bone.
type BoneTarget struct {
	Object string            `yaml:"object" json:"object"`
	Bone   string            `yaml:"bone" json:"bone"`
	Mode   host.RotationMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	Axis   string            `yaml:"axis" json:"axis"`
}

// PropertyTarget drives any property reachable by data path.
type PropertyTarget struct {
	DataPath string `yaml:"data_path" json:"data_path"`
}

// Mapping binds an OSC address to one target with a linear value remap.
type Mapping struct {
	ID       string  `yaml:"id,omitempty" json:"id"`
	Kind     Kind    `yaml:"kind" json:"kind"`
	Address  string  `yaml:"address" json:"address"`
	ArgIndex int     `yaml:"arg_index" json:"arg_index"`
	MinIn    float64 `yaml:"min_in" json:"min_in"`
	MaxIn    float64 `yaml:"max_in" json:"max_in"`
	MinOut   float64 `yaml:"min_out" json:"min_out"`
	MaxOut   float64 `yaml:"max_out" json:"max_out"`
	Clamp    bool    `yaml:"clamp,omitempty" json:"clamp,omitempty"`
	Invert   bool    `yaml:"invert,omitempty" json:"invert,omitempty"`
	AutoKey  *bool   `yaml:"auto_key,omitempty" json:"auto_key,omitempty"`

	ShapeKey *ShapeKeyTarget `yaml:"shape_key,omitempty" json:"shape_key,omitempty"`
	Bone     *BoneTarget     `yaml:"bone,omitempty" json:"bone,omitempty"`
	Property *PropertyTarget `yaml:"property,omitempty" json:"property,omitempty"`

	// resolved locator, set by Compile
	loc *host.Locator
}

// New returns a mapping of the given kind with unit input and output ranges.
func New(kind Kind, address string) Mapping {
	return Mapping{Kind: kind, Address: address, MaxIn: 1, MaxOut: 1}
}

// UnmarshalYAML applies unit ranges before decoding so omitted bounds keep them.
func (m *Mapping) UnmarshalYAML(value *yaml.Node) error {
	type plain Mapping
	p := plain(New("", ""))
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = Mapping(p)
	return nil
}

// AutoKeyEnabled reports whether applied values of this mapping may be keyframed.
// A nil AutoKey inherits, which means enabled.
func (m Mapping) AutoKeyEnabled() bool {
	return m.AutoKey == nil || *m.AutoKey
}

// Validate checks the address and target shape and that the target resolves
// to a locator. A degenerate range is accepted here and reported by Remap.
func (m Mapping) Validate() error {
	if m.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalid)
	}
	if !strings.HasPrefix(m.Address, "/") {
		return fmt.Errorf("%w: address %q must start with /", ErrInvalid, m.Address)
	}
	if m.ArgIndex < -1 {
		return fmt.Errorf("%w: arg_index %d must be >= -1", ErrInvalid, m.ArgIndex)
	}
	if _, err := m.resolve(); err != nil {
		return err
	}
	return nil
}

// Locator returns the host locator this mapping writes to.
func (m Mapping) Locator() (host.Locator, error) {
	if m.loc != nil {
		return *m.loc, nil
	}
	return m.resolve()
}

// Compile validates m and caches its locator for repeated resolution.
func (m Mapping) Compile() (Mapping, error) {
	if err := m.Validate(); err != nil {
		return m, err
	}
	loc, _ := m.resolve()
	m.loc = &loc
	return m, nil
}

func (m Mapping) resolve() (host.Locator, error) {
	switch m.Kind {
	case KindShapeKey:
		if m.ShapeKey == nil || m.ShapeKey.Object == "" || m.ShapeKey.ShapeKey == "" {
			return host.Locator{}, fmt.Errorf("%w: shape_key target needs object and shape_key", ErrInvalid)
		}
		return host.ShapeKeyValue(m.ShapeKey.Object, m.ShapeKey.ShapeKey), nil

	case KindBone:
		b := m.Bone
		if b == nil || b.Object == "" || b.Bone == "" {
			return host.Locator{}, fmt.Errorf("%w: bone target needs object and bone", ErrInvalid)
		}
		mode, err := host.ParseRotationMode(string(b.Mode))
		if err != nil {
			return host.Locator{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		idx, err := host.ComponentIndex(mode, b.Axis)
		if err != nil {
			return host.Locator{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return host.BoneRotation(b.Object, b.Bone, mode, idx), nil

	case KindProperty:
		if m.Property == nil || m.Property.DataPath == "" {
			return host.Locator{}, fmt.Errorf("%w: property target needs data_path", ErrInvalid)
		}
		loc, err := host.ParsePath(m.Property.DataPath)
		if err != nil {
			return host.Locator{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return loc, nil

	default:
		return host.Locator{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, m.Kind)
	}
}

// Select picks the numeric argument this mapping reads. ArgIndex -1 takes
// the first numeric argument.
func (m Mapping) Select(args []any) (float64, error) {
	if m.ArgIndex < 0 {
		for _, a := range args {
			if v, ok := codec.Numeric(a); ok {
				return v, nil
			}
		}
		if len(args) == 0 {
			return 0, ErrMissingArgument
		}
		return 0, ErrNonNumeric
	}
	if m.ArgIndex >= len(args) {
		return 0, fmt.Errorf("%w: index %d, message has %d", ErrMissingArgument, m.ArgIndex, len(args))
	}
	v, ok := codec.Numeric(args[m.ArgIndex])
	if !ok {
		return 0, fmt.Errorf("%w: index %d is %T", ErrNonNumeric, m.ArgIndex, args[m.ArgIndex])
	}
	return v, nil
}

// Remap maps v linearly from [MinIn, MaxIn] onto [MinOut, MaxOut].
// Values outside the input range extrapolate unless Clamp is set; Invert
// flips the normalised position. Both range endpoints map exactly.
func Remap(v float64, m Mapping) (float64, error) {
	if m.MinIn == m.MaxIn {
		return 0, ErrDegenerateRange
	}
	t := (v - m.MinIn) / (m.MaxIn - m.MinIn)
	if m.Clamp {
		t = max(0, min(1, t))
	}
	if m.Invert {
		t = 1 - t
	}
	if t == 1 {
		return m.MaxOut, nil
	}
	return m.MinOut + t*(m.MaxOut-m.MinOut), nil
}

// Describe renders the target for logs and listings.
func (m Mapping) Describe() string {
	loc, err := m.Locator()
	if err != nil {
		return fmt.Sprintf("%s <invalid: %v>", m.Kind, err)
	}
	return loc.String()
}
