package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/internal/mapping"
)

func newMappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mapping",
		Aliases: []string{"mappings", "map"},
		Short:   "Manage OSC address mappings",
		Long: `Manage the mappings of the running daemon.

A mapping binds an OSC address to one target and remaps the selected
argument linearly from [min-in, max-in] to [min-out, max-out]. Several
mappings may share an address. Changes are saved to the mappings file.`,
	}

	cmd.AddCommand(newMappingListCmd())
	cmd.AddCommand(newMappingAddCmd())
	cmd.AddCommand(newMappingRemoveCmd())
	cmd.AddCommand(newMappingDuplicateCmd())
	cmd.AddCommand(newMappingFaceCmd())

	return cmd
}

func newMappingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ms, err := client.Mappings()
			if err != nil {
				return fmt.Errorf("failed to list mappings: %w", err)
			}
			printMappings(os.Stdout, ms)
			return nil
		},
	}
}

func printMappings(out io.Writer, ms []mapping.Mapping) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\tADDRESS\tARG\tIN\tOUT\tTARGET\n")
	for _, m := range ms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(m.ID), m.Address, argString(m.ArgIndex),
			rangeString(m.MinIn, m.MaxIn), rangeString(m.MinOut, m.MaxOut), m.Describe())
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nTotal mappings: %d\n", len(ms))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func argString(i int) string {
	if i < 0 {
		return "first"
	}
	return strconv.Itoa(i)
}

func rangeString(lo, hi float64) string {
	return fmt.Sprintf("%g..%g", lo, hi)
}

// mappingFlags collects the flags of "mapping add".
type mappingFlags struct {
	kind     string
	address  string
	argIndex int
	minIn    float64
	maxIn    float64
	minOut   float64
	maxOut   float64
	clamp    bool
	invert   bool
	noKey    bool

	object   string
	shapeKey string
	bone     string
	mode     string
	axis     string
	path     string
}

// build turns the flags into a mapping. Kind defaults from the target flags given.
func (f *mappingFlags) build() (mapping.Mapping, error) {
	kind := mapping.Kind(f.kind)
	if kind == "" {
		switch {
		case f.path != "":
			kind = mapping.KindProperty
		case f.bone != "":
			kind = mapping.KindBone
		case f.shapeKey != "":
			kind = mapping.KindShapeKey
		default:
			return mapping.Mapping{}, fmt.Errorf("one of --path, --bone or --shape-key is required")
		}
	}

	m := mapping.New(kind, f.address)
	switch kind {
	case mapping.KindShapeKey:
		m.ShapeKey = &mapping.ShapeKeyTarget{Object: f.object, ShapeKey: f.shapeKey}
		if m.Address == "" {
			m.Address = "/" + f.shapeKey
		}
	case mapping.KindBone:
		mode, err := host.ParseRotationMode(f.mode)
		if err != nil {
			return mapping.Mapping{}, err
		}
		m.Bone = &mapping.BoneTarget{Object: f.object, Bone: f.bone, Mode: mode, Axis: f.axis}
	case mapping.KindProperty:
		if m.Address == "" {
			pm, err := mapping.ForPath(f.path)
			if err != nil {
				return mapping.Mapping{}, err
			}
			m.Address = pm.Address
		}
		m.Property = &mapping.PropertyTarget{DataPath: f.path}
	default:
		return mapping.Mapping{}, fmt.Errorf("unknown kind %q", f.kind)
	}

	m.ArgIndex = f.argIndex
	m.MinIn, m.MaxIn = f.minIn, f.maxIn
	m.MinOut, m.MaxOut = f.minOut, f.maxOut
	m.Clamp = f.clamp
	m.Invert = f.invert
	if f.noKey {
		off := false
		m.AutoKey = &off
	}

	if err := m.Validate(); err != nil {
		return mapping.Mapping{}, err
	}
	return m, nil
}

func newMappingAddCmd() *cobra.Command {
	var f mappingFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a mapping",
		Long: `Add a mapping to the running daemon.

Examples:
  # Shape key, address defaults to /jawOpen
  oscmap mapping add --object Face --shape-key jawOpen

  # Bone rotation driven by a signed input
  oscmap mapping add --address /head/yaw --object Armature --bone Head \
      --mode euler --axis z --min-in -1 --max-in 1 --min-out -1.57 --max-out 1.57

  # Any property by data path
  oscmap mapping add --path 'objects["Cube"].location[2]' --max-out 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := f.build()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			added, err := client.AddMapping(m)
			if err != nil {
				return fmt.Errorf("failed to add mapping: %w", err)
			}
			fmt.Printf("Added %s: %s -> %s\n", added.ID, added.Address, added.Describe())
			return nil
		},
	}

	cmd.Flags().StringVar(&f.kind, "kind", "", "shape_key, bone or property (default from target flags)")
	cmd.Flags().StringVarP(&f.address, "address", "a", "", "OSC address")
	cmd.Flags().IntVar(&f.argIndex, "arg-index", 0, "argument index, -1 for the first numeric argument")
	cmd.Flags().Float64Var(&f.minIn, "min-in", 0, "input range start")
	cmd.Flags().Float64Var(&f.maxIn, "max-in", 1, "input range end")
	cmd.Flags().Float64Var(&f.minOut, "min-out", 0, "output range start")
	cmd.Flags().Float64Var(&f.maxOut, "max-out", 1, "output range end")
	cmd.Flags().BoolVar(&f.clamp, "clamp", false, "clamp to the output range")
	cmd.Flags().BoolVar(&f.invert, "invert", false, "invert the normalized value")
	cmd.Flags().BoolVar(&f.noKey, "no-autokey", false, "never record keyframes for this mapping")
	cmd.Flags().StringVar(&f.object, "object", "", "target object")
	cmd.Flags().StringVar(&f.shapeKey, "shape-key", "", "target shape key")
	cmd.Flags().StringVar(&f.bone, "bone", "", "target pose bone")
	cmd.Flags().StringVar(&f.mode, "mode", "euler", "bone rotation mode: euler or quaternion")
	cmd.Flags().StringVar(&f.axis, "axis", "x", "bone rotation axis: x, y, z or w")
	cmd.Flags().StringVar(&f.path, "path", "", "target data path")

	return cmd
}

func newMappingRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			id, err := resolveID(client.Mappings, args[0])
			if err != nil {
				return err
			}
			if err := client.RemoveMapping(id); err != nil {
				return fmt.Errorf("failed to remove mapping: %w", err)
			}
			fmt.Printf("Removed %s\n", id)
			return nil
		},
	}
}

func newMappingDuplicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Copy a mapping under a new ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			id, err := resolveID(client.Mappings, args[0])
			if err != nil {
				return err
			}
			dup, err := client.DuplicateMapping(id)
			if err != nil {
				return fmt.Errorf("failed to duplicate mapping: %w", err)
			}
			fmt.Printf("Added %s: %s -> %s\n", dup.ID, dup.Address, dup.Describe())
			return nil
		},
	}
}

func newMappingFaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "face <object>",
		Short: "Add the 52 ARKit face shape key mappings for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			n, err := client.AddFacePreset(args[0])
			if err != nil {
				return fmt.Errorf("failed to add face preset: %w", err)
			}
			fmt.Printf("Added %d face mappings for %s\n", n, args[0])
			return nil
		},
	}
}

// resolveID expands a unique ID prefix, as printed by "mapping list".
func resolveID(list func() ([]mapping.Mapping, error), prefix string) (string, error) {
	ms, err := list()
	if err != nil {
		return "", fmt.Errorf("failed to list mappings: %w", err)
	}
	var match string
	for _, m := range ms {
		if m.ID == prefix {
			return m.ID, nil
		}
		if len(m.ID) >= len(prefix) && m.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("ambiguous mapping id %q", prefix)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", mapping.ErrNotFound, prefix)
	}
	return match, nil
}
