package engine

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/chazu/softbody/pkg/scene"
	"github.com/samber/lo"
	zygo "github.com/glycerine/zygomys/zygo"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource rewrites scene source before it reaches zygomys:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal), so
//     keywords never collide with user variables of the same name.
//
//  2. Kebab-case to underscore: max-iterations -> max_iterations, since
//     zygomys reads a hyphen inside an identifier as subtraction.
//
//  3. Comment conversion: ; line comments become // comments.
//
// String literals are left untouched.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				result = append(result, '"')
				result = append(result, kwPrefix...)
				result = append(result, b[i+1:j]...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Only a hyphen between identifier characters is part of a name.
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isLetter(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpMaterial wraps a scene.Material so it can be passed between builtins.
type sexpMaterial struct {
	mat scene.Material
}

func (m *sexpMaterial) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(material :stiffness %g :density %g)", m.mat.Stiffness, m.mat.Density)
}
func (m *sexpMaterial) Type() *zygo.RegisteredType { return nil }

// sexpShape wraps a scene.Shape tree.
type sexpShape struct {
	shape *scene.Shape
}

func (s *sexpShape) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s)", s.shape.Kind)
}
func (s *sexpShape) Type() *zygo.RegisteredType { return nil }

// sexpBody wraps a scene.BodyData so it can be returned from `volume`,
// `surface` and `strand` and consumed by `defbody`.
type sexpBody struct {
	data scene.BodyData
}

func (b *sexpBody) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s)", b.data.Kind)
}
func (b *sexpBody) Type() *zygo.RegisteredType { return nil }

// sexpNodeRef wraps a scene.NodeID so it can be passed between builtins.
type sexpNodeRef struct {
	id   scene.NodeID
	name string // human-readable name for error messages
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	if n.name != "" {
		return fmt.Sprintf("(noderef %q)", n.name)
	}
	return fmt.Sprintf("(noderef %s)", n.id.Short())
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

// sexpVec3 wraps a scene.Vec3.
type sexpVec3 struct {
	vec scene.Vec3
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// only returns an error naming a keyword not in allowed.
func (pa kwArgs) only(fn string, allowed ...string) error {
	for _, k := range lo.Keys(pa.kw) {
		if !lo.Contains(allowed, k) {
			return fmt.Errorf("%s: unknown keyword :%s", fn, k)
		}
	}
	return nil
}

// setFloat sets *dst from keyword key when present.
func (pa kwArgs) setFloat(fn, key string, dst *float64) error {
	v, ok := pa.kw[key]
	if !ok {
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", fn, key, err)
	}
	*dst = f
	return nil
}

// setInt sets *dst from keyword key when present.
func (pa kwArgs) setInt(fn, key string, dst *int) error {
	v, ok := pa.kw[key]
	if !ok {
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", fn, key, err)
	}
	*dst = int(f)
	return nil
}

// setBool sets *dst from keyword key when present.
func (pa kwArgs) setBool(fn, key string, dst *bool) error {
	v, ok := pa.kw[key]
	if !ok {
		return nil
	}
	b, err := toBool(v)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", fn, key, err)
	}
	*dst = b
	return nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toBool extracts a boolean. A bare trailing keyword counts as true.
func toBool(s zygo.Sexp) (bool, error) {
	switch v := s.(type) {
	case *zygo.SexpBool:
		return v.Val, nil
	case *zygo.SexpInt:
		return v.Val != 0, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return true, nil
		}
	}
	return false, fmt.Errorf("expected true or false, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_fem) and plain strings ("fem").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toSolver converts a keyword or string to a scene.SolverKind.
func toSolver(s zygo.Sexp) (scene.SolverKind, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return "", fmt.Errorf("expected solver keyword (:fem, :springs): %w", err)
	}
	switch k := scene.SolverKind(name); k {
	case scene.SolverFEM, scene.SolverSprings:
		return k, nil
	}
	return "", fmt.Errorf("invalid solver %q, expected fem or springs", name)
}

// toNodeRef extracts a NodeID from a sexpNodeRef.
func toNodeRef(s zygo.Sexp) (scene.NodeID, error) {
	if ref, ok := s.(*sexpNodeRef); ok {
		return ref.id, nil
	}
	return scene.ZeroID, fmt.Errorf("expected node reference, got %T (%s)", s, s.SexpString(nil))
}

// toVec3 extracts a Vec3 from a sexpVec3.
func toVec3(s zygo.Sexp) (scene.Vec3, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return scene.Vec3{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// toMaterial extracts a Material from a sexpMaterial.
func toMaterial(s zygo.Sexp) (scene.Material, error) {
	if m, ok := s.(*sexpMaterial); ok {
		return m.mat, nil
	}
	return scene.Material{}, fmt.Errorf("expected material, got %T (%s)", s, s.SexpString(nil))
}

// toShape extracts a Shape from a sexpShape.
func toShape(s zygo.Sexp) (*scene.Shape, error) {
	if sh, ok := s.(*sexpShape); ok {
		return sh.shape, nil
	}
	return nil, fmt.Errorf("expected shape, got %T (%s)", s, s.SexpString(nil))
}

// toCells accepts a single count for every axis or a list of three.
func toCells(s zygo.Sexp) ([3]int, error) {
	if f, err := toFloat64(s); err == nil {
		n := int(f)
		return [3]int{n, n, n}, nil
	}
	if v, ok := s.(*sexpVec3); ok {
		return [3]int{int(v.vec.X), int(v.vec.Y), int(v.vec.Z)}, nil
	}
	items, err := sexpListToSlice(s)
	if err != nil || len(items) != 3 {
		return [3]int{}, fmt.Errorf("expected a cell count or a list of 3, got %s", s.SexpString(nil))
	}
	var cells [3]int
	for i, item := range items {
		f, err := toFloat64(item)
		if err != nil {
			return [3]int{}, err
		}
		cells[i] = int(f)
	}
	return cells, nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// ---------------------------------------------------------------------------
// Node ID generation
// ---------------------------------------------------------------------------

// nodeCounter provides unique suffixes for anonymous nodes.
var nodeCounter uint64

func nextNodeSuffix() string {
	n := atomic.AddUint64(&nodeCounter, 1)
	return fmt.Sprintf("_anon_%d", n)
}

// uniqueID returns the id for path, or for path plus an anonymous suffix
// when the scene already holds a node with that id.
func uniqueID(s *scene.Scene, path string) scene.NodeID {
	id := scene.NewNodeID(path)
	if s.Get(id) != nil {
		id = scene.NewNodeID(path + "/" + nextNodeSuffix())
	}
	return id
}

// ---------------------------------------------------------------------------
// Shared argument handling
// ---------------------------------------------------------------------------

// bodyKeywords are accepted by every body constructor.
var bodyKeywords = []string{"material", "radius", "fixed", "anchor", "velocity"}

// parseBodyOptions fills the options shared by all body kinds.
func parseBodyOptions(fn string, pa kwArgs, bd *scene.BodyData) error {
	bd.Material = scene.DefaultMaterial()
	if v, ok := pa.kw["material"]; ok {
		m, err := toMaterial(v)
		if err != nil {
			return fmt.Errorf("%s: material: %w", fn, err)
		}
		bd.Material = m
	}
	if err := pa.setFloat(fn, "radius", &bd.Radius); err != nil {
		return err
	}
	if err := pa.setBool(fn, "fixed", &bd.Fixed); err != nil {
		return err
	}
	if err := pa.setBool(fn, "anchor", &bd.Anchor); err != nil {
		return err
	}
	if v, ok := pa.kw["velocity"]; ok {
		vec, err := toVec3(v)
		if err != nil {
			return fmt.Errorf("%s: velocity: %w", fn, err)
		}
		bd.Velocity = vec
	}
	return nil
}

// shapeArgs collects the positional shape arguments of a boolean.
func shapeArgs(fn string, args []zygo.Sexp) ([]*scene.Shape, error) {
	shapes := make([]*scene.Shape, 0, len(args))
	for i, a := range args {
		sh, err := toShape(a)
		if err != nil {
			return nil, fmt.Errorf("%s: shape %d: %w", fn, i+1, err)
		}
		shapes = append(shapes, sh)
	}
	if len(shapes) < 2 {
		return nil, fmt.Errorf("%s requires at least 2 shapes, got %d", fn, len(shapes))
	}
	return shapes, nil
}

// roundShape parses (fn :radius r :height h) or (fn r h).
func roundShape(fn string, kind scene.ShapeKind, args []zygo.Sexp, needHeight bool) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if err := pa.only(fn, "radius", "height"); err != nil {
		return zygo.SexpNull, err
	}
	sh := &scene.Shape{Kind: kind}
	dst := []*float64{&sh.Radius}
	if needHeight {
		dst = append(dst, &sh.Height)
	}
	if len(pa.positional) > len(dst) {
		return zygo.SexpNull, fmt.Errorf("%s takes at most %d positional arguments, got %d", fn, len(dst), len(pa.positional))
	}
	for i, a := range pa.positional {
		f, err := toFloat64(a)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: argument %d: %w", fn, i+1, err)
		}
		*dst[i] = f
	}
	if err := pa.setFloat(fn, "radius", &sh.Radius); err != nil {
		return zygo.SexpNull, err
	}
	if err := pa.setFloat(fn, "height", &sh.Height); err != nil {
		return zygo.SexpNull, err
	}
	return &sexpShape{shape: sh}, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the scene DSL builtins into a zygomys
// environment. The builtins populate s during evaluation.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, s *scene.Scene) {

	// -----------------------------------------------------------------------
	// (material :stiffness 1000 :density 1 :damping 0.1 :poisson 0.3 :name "gel")
	// -----------------------------------------------------------------------
	env.AddFunction("material", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("material", "name", "stiffness", "density", "damping", "poisson"); err != nil {
			return zygo.SexpNull, err
		}
		m := scene.DefaultMaterial()
		m.Name = ""

		if v, ok := pa.kw["name"]; ok {
			str, err := toString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("material: name: %w", err)
			}
			m.Name = str
		}
		for key, dst := range map[string]*float64{
			"stiffness": &m.Stiffness,
			"density":   &m.Density,
			"damping":   &m.Damping,
			"poisson":   &m.PoissonRatio,
		} {
			if err := pa.setFloat("material", key, dst); err != nil {
				return zygo.SexpNull, err
			}
		}

		return &sexpMaterial{mat: m}, nil
	})

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}

		x, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: x: %w", err)
		}
		y, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: y: %w", err)
		}
		z, err := toFloat64(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("vec3: z: %w", err)
		}

		return &sexpVec3{vec: scene.Vec3{X: x, Y: y, Z: z}}, nil
	})

	// -----------------------------------------------------------------------
	// (box 1 2 3) or (box :size (vec3 1 2 3))
	// -----------------------------------------------------------------------
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("box", "size"); err != nil {
			return zygo.SexpNull, err
		}
		sh := &scene.Shape{Kind: scene.ShapeBox}

		switch len(pa.positional) {
		case 0:
		case 3:
			dims := []*float64{&sh.Size.X, &sh.Size.Y, &sh.Size.Z}
			for i, a := range pa.positional {
				f, err := toFloat64(a)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("box: dimension %d: %w", i+1, err)
				}
				*dims[i] = f
			}
		default:
			return zygo.SexpNull, fmt.Errorf("box takes 3 dimensions, got %d", len(pa.positional))
		}
		if v, ok := pa.kw["size"]; ok {
			vec, err := toVec3(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("box: size: %w", err)
			}
			sh.Size = vec
		}

		return &sexpShape{shape: sh}, nil
	})

	// -----------------------------------------------------------------------
	// (sphere 1) or (sphere :radius 1)
	// -----------------------------------------------------------------------
	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return roundShape("sphere", scene.ShapeSphere, args, false)
	})

	// -----------------------------------------------------------------------
	// (cylinder :radius 0.5 :height 2), axis along z
	// -----------------------------------------------------------------------
	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return roundShape("cylinder", scene.ShapeCylinder, args, true)
	})

	// -----------------------------------------------------------------------
	// (capsule :radius 0.5 :height 2), height between the cap centers
	// -----------------------------------------------------------------------
	env.AddFunction("capsule", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return roundShape("capsule", scene.ShapeCapsule, args, true)
	})

	// -----------------------------------------------------------------------
	// (union a b ...), (difference a b ...), (intersection a b ...)
	// -----------------------------------------------------------------------
	for fn, kind := range map[string]scene.ShapeKind{
		"union":        scene.ShapeUnion,
		"difference":   scene.ShapeDifference,
		"intersection": scene.ShapeIntersection,
	} {
		env.AddFunction(fn, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			shapes, err := shapeArgs(fn, args)
			if err != nil {
				return zygo.SexpNull, err
			}
			return &sexpShape{shape: &scene.Shape{Kind: kind, Children: shapes}}, nil
		})
	}

	// -----------------------------------------------------------------------
	// (translate shape (vec3 1 0 0))
	// -----------------------------------------------------------------------
	env.AddFunction("translate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("translate requires a shape and a vec3")
		}
		sh, err := toShape(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("translate: shape: %w", err)
		}
		by, err := toVec3(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("translate: offset: %w", err)
		}
		moved := *sh
		moved.Offset = scene.Vec3{X: sh.Offset.X + by.X, Y: sh.Offset.Y + by.Y, Z: sh.Offset.Z + by.Z}
		return &sexpShape{shape: &moved}, nil
	})

	// -----------------------------------------------------------------------
	// (rotate shape (vec3 0 0 90)), degrees about X then Y then Z
	// -----------------------------------------------------------------------
	env.AddFunction("rotate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("rotate requires a shape and a vec3")
		}
		sh, err := toShape(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: shape: %w", err)
		}
		angles, err := toVec3(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: angles: %w", err)
		}
		if sh.Offset != (scene.Vec3{}) || sh.Rotation != (scene.Vec3{}) {
			return zygo.SexpNull, fmt.Errorf("rotate: shape is already moved; rotate it before translating")
		}
		turned := *sh
		turned.Rotation = angles
		return &sexpShape{shape: &turned}, nil
	})

	// -----------------------------------------------------------------------
	// (volume :size (vec3 1 1 1) :cells 2 :material gel :radius 0.01)
	// -----------------------------------------------------------------------
	env.AddFunction("volume", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("volume", append([]string{"size", "cells"}, bodyKeywords...)...); err != nil {
			return zygo.SexpNull, err
		}
		bd := scene.BodyData{Kind: scene.BodyVolume, Cells: [3]int{1, 1, 1}}
		if err := parseBodyOptions("volume", pa, &bd); err != nil {
			return zygo.SexpNull, err
		}

		v, ok := pa.kw["size"]
		if !ok {
			return zygo.SexpNull, fmt.Errorf("volume requires :size")
		}
		size, err := toVec3(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("volume: size: %w", err)
		}
		bd.Size = size
		if v, ok := pa.kw["cells"]; ok {
			cells, err := toCells(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("volume: cells: %w", err)
			}
			bd.Cells = cells
		}

		return &sexpBody{data: bd}, nil
	})

	// -----------------------------------------------------------------------
	// (surface (sphere 1) :radius 0.02 :material gel)
	// -----------------------------------------------------------------------
	env.AddFunction("surface", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("surface", bodyKeywords...); err != nil {
			return zygo.SexpNull, err
		}
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("surface requires exactly one shape, got %d", len(pa.positional))
		}
		sh, err := toShape(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("surface: %w", err)
		}
		bd := scene.BodyData{Kind: scene.BodySurface, Shape: sh}
		if err := parseBodyOptions("surface", pa, &bd); err != nil {
			return zygo.SexpNull, err
		}

		return &sexpBody{data: bd}, nil
	})

	// -----------------------------------------------------------------------
	// (strand :points (list (vec3 0 0 0) (vec3 1 0 0)) :radius 0.1 :segment 0.2)
	// -----------------------------------------------------------------------
	env.AddFunction("strand", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("strand", append([]string{"points", "segment"}, bodyKeywords...)...); err != nil {
			return zygo.SexpNull, err
		}
		bd := scene.BodyData{Kind: scene.BodyStrand}
		if err := parseBodyOptions("strand", pa, &bd); err != nil {
			return zygo.SexpNull, err
		}

		v, ok := pa.kw["points"]
		if !ok {
			return zygo.SexpNull, fmt.Errorf("strand requires :points")
		}
		items, err := sexpListToSlice(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("strand: points: %w", err)
		}
		for i, item := range items {
			p, err := toVec3(item)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("strand: point %d: %w", i+1, err)
			}
			bd.Points = append(bd.Points, p)
		}
		if err := pa.setFloat("strand", "segment", &bd.Segment); err != nil {
			return zygo.SexpNull, err
		}

		return &sexpBody{data: bd}, nil
	})

	// -----------------------------------------------------------------------
	// (defbody "name" (volume ...))
	// -----------------------------------------------------------------------
	env.AddFunction("defbody", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("defbody requires a name and a body expression")
		}

		bodyName, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defbody: name: %w", err)
		}
		if s.Lookup(bodyName) != nil {
			return zygo.SexpNull, fmt.Errorf("defbody: %q is already defined", bodyName)
		}

		body, ok := args[1].(*sexpBody)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("defbody: expected volume, surface or strand, got %T", args[1])
		}

		id := scene.NewNodeID("body/" + bodyName)
		s.AddNode(&scene.Node{
			ID:   id,
			Kind: scene.NodeBody,
			Name: bodyName,
			Data: body.data,
		})
		s.AddRoot(id)

		return &sexpNodeRef{id: id, name: bodyName}, nil
	})

	// -----------------------------------------------------------------------
	// (body "name")
	// -----------------------------------------------------------------------
	env.AddFunction("body", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("body requires a name argument")
		}

		bodyName, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("body: name: %w", err)
		}

		n := s.Lookup(bodyName)
		if n == nil {
			return zygo.SexpNull, fmt.Errorf("body: no body named %q", bodyName)
		}

		return &sexpNodeRef{id: n.ID, name: bodyName}, nil
	})

	// -----------------------------------------------------------------------
	// (place (body "right") :at (vec3 0.9 0 0) :rotate (vec3 0 0 45))
	// -----------------------------------------------------------------------
	env.AddFunction("place", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("place", "at", "rotate"); err != nil {
			return zygo.SexpNull, err
		}

		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("place requires a node reference as first argument")
		}

		childID, err := toNodeRef(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("place: %w", err)
		}

		td := scene.TransformData{}
		if v, ok := pa.kw["at"]; ok {
			vec, err := toVec3(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("place: at: %w", err)
			}
			td.Translation = &vec
		}
		if v, ok := pa.kw["rotate"]; ok {
			vec, err := toVec3(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("place: rotate: %w", err)
			}
			td.Rotation = &vec
		}

		idPath := "place/" + nextNodeSuffix()
		if child := s.Get(childID); child != nil && child.Name != "" {
			idPath = "place/" + child.Name
		}
		id := uniqueID(s, idPath)

		s.AddNode(&scene.Node{
			ID:       id,
			Kind:     scene.NodeTransform,
			Children: []scene.NodeID{childID},
			Data:     td,
		})
		s.RemoveRoot(childID)
		s.AddRoot(id)

		return &sexpNodeRef{id: id}, nil
	})

	// -----------------------------------------------------------------------
	// (group "name" (body "a") (place ...) ...)
	// -----------------------------------------------------------------------
	env.AddFunction("group", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 {
			return zygo.SexpNull, fmt.Errorf("group requires a name argument")
		}

		groupName, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("group: name: %w", err)
		}
		if s.Lookup(groupName) != nil {
			return zygo.SexpNull, fmt.Errorf("group: %q is already defined", groupName)
		}

		var children []scene.NodeID
		for i := 1; i < len(args); i++ {
			ref, ok := args[i].(*sexpNodeRef)
			if !ok {
				return zygo.SexpNull, fmt.Errorf("group: child %d: expected node reference, got %T (%s)",
					i, args[i], args[i].SexpString(nil))
			}
			children = append(children, ref.id)
		}

		id := scene.NewNodeID("group/" + groupName)
		s.AddNode(&scene.Node{
			ID:       id,
			Kind:     scene.NodeGroup,
			Name:     groupName,
			Children: children,
			Data:     scene.GroupData{},
		})
		for _, c := range children {
			s.RemoveRoot(c)
		}
		s.AddRoot(id)

		return &sexpNodeRef{id: id, name: groupName}, nil
	})

	// -----------------------------------------------------------------------
	// (settings :solver :fem :dt 0.01 :collision-stiffness 10 ...)
	// -----------------------------------------------------------------------
	env.AddFunction("settings", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) > 0 {
			return zygo.SexpNull, fmt.Errorf("settings takes only keyword arguments")
		}
		st := &s.Settings

		floats := map[string]*float64{
			"dt":                  &st.Dt,
			"collision-stiffness": &st.CollisionStiffness,
			"stiffness-growth":    &st.StiffnessGrowth,
			"threshold":           &st.Threshold,
			"region-factor":       &st.RegionFactor,
		}
		ints := map[string]*int{
			"max-iterations": &st.MaxIterations,
			"cell-size":      &st.CellSize,
			"mesh-cells":     &st.MeshCells,
		}
		bools := map[string]*bool{
			"gravity":   &st.Gravity,
			"inertia":   &st.Inertia,
			"corotated": &st.Corotated,
			"regions":   &st.Regions,
		}

		for key, v := range pa.kw {
			var err error
			switch {
			case key == "solver":
				st.Solver, err = toSolver(v)
				if err != nil {
					err = fmt.Errorf("settings: solver: %w", err)
				}
			case floats[key] != nil:
				err = pa.setFloat("settings", key, floats[key])
			case ints[key] != nil:
				err = pa.setInt("settings", key, ints[key])
			case bools[key] != nil:
				err = pa.setBool("settings", key, bools[key])
			default:
				err = fmt.Errorf("settings: unknown keyword :%s", key)
			}
			if err != nil {
				return zygo.SexpNull, err
			}
		}

		return zygo.SexpNull, nil
	})

	// -----------------------------------------------------------------------
	// (domain (vec3 -5 -5 -5) (vec3 5 5 5))
	// -----------------------------------------------------------------------
	env.AddFunction("domain", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("domain requires a min and a max vec3")
		}
		lo, err := toVec3(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("domain: min: %w", err)
		}
		hi, err := toVec3(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("domain: max: %w", err)
		}
		s.Settings.Domain = &scene.Box{Min: lo, Max: hi}

		return zygo.SexpNull, nil
	})
}
