package main

import (
	"fmt"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// 1. Empty editor: empty string -> 0 meshes, 0 errors.
//    (TestE2EEmptySource already exists; this verifies additional invariants.)
// ---------------------------------------------------------------------------

func TestE2EEmptySourceExtended(t *testing.T) {
	app := quietApp()
	result := app.Evaluate("")

	if len(result.Errors) != 0 {
		t.Errorf("expected 0 errors for empty source, got %d", len(result.Errors))
	}
	if len(result.Meshes) != 0 {
		t.Errorf("expected 0 meshes for empty source, got %d", len(result.Meshes))
	}
	// Ensure slices are non-nil (JSON should serialize as [] not null).
	if result.Meshes == nil {
		t.Error("Meshes should be non-nil empty slice, got nil")
	}
	if result.Errors == nil {
		t.Error("Errors should be non-nil empty slice, got nil")
	}
	if result.Warnings == nil {
		t.Error("Warnings should be non-nil empty slice, got nil")
	}
}

// ---------------------------------------------------------------------------
// 2. Syntax errors: unmatched parens -> eval error, 0 meshes.
// ---------------------------------------------------------------------------

func TestE2ESyntaxErrorWithLineInfo(t *testing.T) {
	app := quietApp()

	// Put valid code on line 1, broken code on line 2 so line info is meaningful.
	source := "(+ 1 2)\n(defbody \"test\""
	result := app.Evaluate(source)

	if len(result.Errors) == 0 {
		t.Fatal("expected at least one eval error for unmatched parens")
	}
	if len(result.Meshes) != 0 {
		t.Errorf("expected 0 meshes on syntax error, got %d", len(result.Meshes))
	}

	e := result.Errors[0]
	if e.Message == "" {
		t.Error("syntax error should have a non-empty message")
	}
	t.Logf("syntax error: line=%d, col=%d, message=%q", e.Line, e.Col, e.Message)
}

func TestE2ESyntaxErrorSingleLineMissingParen(t *testing.T) {
	app := quietApp()

	result := app.Evaluate("(+ 1 2")

	if len(result.Errors) == 0 {
		t.Fatal("expected eval error for missing closing paren")
	}
	if result.Errors[0].Message == "" {
		t.Error("error message should not be empty")
	}
}

// ---------------------------------------------------------------------------
// 3. Undefined body reference: (body "nonexistent") in a group -> eval error.
// ---------------------------------------------------------------------------

func TestE2EUndefinedBodyReference(t *testing.T) {
	app := quietApp()

	source := `
(defbody "cube" (volume :size (vec3 1 1 1)))

(group "pair"
  (body "cube")
  (place (body "nonexistent") :at (vec3 2 0 0)))
`
	result := app.Simulate(source, ModeAuto)

	if len(result.Errors) == 0 {
		t.Fatal("expected eval error for undefined body reference")
	}
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e.Message, "nonexistent") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected error mentioning 'nonexistent', got: %v", result.Errors)
	}
	if len(result.Meshes) != 0 || result.Report != nil {
		t.Error("a failed evaluation should not be tessellated or simulated")
	}
}

func TestE2EDuplicateBodyName(t *testing.T) {
	app := quietApp()

	source := `
(defbody "cube" (volume :size (vec3 1 1 1)))
(defbody "cube" (volume :size (vec3 2 2 2)))
`
	result := app.Evaluate(source)
	if len(result.Errors) == 0 {
		t.Fatal("expected eval error for a redefined body")
	}
	if !strings.Contains(result.Errors[0].Message, "already defined") {
		t.Errorf("unexpected error: %q", result.Errors[0].Message)
	}
}

// ---------------------------------------------------------------------------
// 4. Degenerate dimensions: validation rejects them before tessellation.
// ---------------------------------------------------------------------------

func TestE2EDegenerateBodies(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"zero size", `(defbody "flat" (volume :size (vec3 0 1 1)))`, "volume size X"},
		{"negative size", `(defbody "neg" (volume :size (vec3 1 1 -2)))`, "volume size Z"},
		{"zero cells", `(defbody "none" (volume :size (vec3 1 1 1) :cells 0))`, "cells"},
		{"negative radius", `(defbody "r" (volume :size (vec3 1 1 1) :radius -0.1))`, "contact radius"},
		{"short strand", `(defbody "s" (strand :points (list (vec3 0 0 0)) :radius 0.1))`, "strand has 1 points"},
		{"strand without radius", `(defbody "s" (strand :points (list (vec3 0 0 0) (vec3 1 0 0))))`, "strand radius"},
		{"zero sphere", `(defbody "b" (surface (sphere 0)))`, "radius"},
		{"soft material", `(defbody "m" (volume :size (vec3 1 1 1) :material (material :stiffness 0)))`, "stiffness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := quietApp()
			result := app.Simulate(tt.source, ModeAuto)

			if len(result.Errors) == 0 {
				t.Fatalf("expected a validation error, got %d meshes", len(result.Meshes))
			}
			found := false
			for _, e := range result.Errors {
				if strings.Contains(e.Message, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error mentioning %q, got: %v", tt.want, result.Errors)
			}
			if len(result.Meshes) != 0 {
				t.Errorf("expected 0 meshes, got %d", len(result.Meshes))
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 5. Rapid evaluation (debounce simulation): no panics, no data races.
//    Run with `go test -race` to detect data races.
// ---------------------------------------------------------------------------

func TestE2ERapidEvaluation(t *testing.T) {
	// Calls are sequential because zygomys has internal global state that is
	// not safe for concurrent sandbox creation.
	app := quietApp()

	sources := []string{
		`(defbody "a" (volume :size (vec3 1 1 1)))`,
		`(defbody "b" (surface (sphere 0.5)))`,
		`(+ 1 2)`,
		``,
		`(defbody "c" (strand :points (list (vec3 0 0 0) (vec3 1 0 0)) :radius 0.1))`,
		`(defbody "d" (volume :size (vec3 2 1 1) :cells (list 2 1 1)))`,
		`(+ 100 200)`,
		``,
		`(defbody "e" (surface (box 1 1 1)))`,
		`(defbody "f" (volume :size (vec3 1 1 1) :cells 2))`,
	}

	for i, source := range sources {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("iteration %d panicked: %v", i, r)
				}
			}()
			_ = app.Evaluate(source)
		}()
	}
}

func TestE2ERapidEvaluationAlternating(t *testing.T) {
	app := quietApp()

	valid := `(defbody "ok" (volume :size (vec3 1 1 1)))`
	invalid := `(defbody "broken"`

	for i := 0; i < 10; i++ {
		source := valid
		if i%2 == 1 {
			source = invalid
		}
		result := app.Evaluate(source)
		if i%2 == 0 {
			if len(result.Errors) != 0 || len(result.Meshes) != 1 {
				t.Errorf("iteration %d: expected 1 mesh and no errors, got %d meshes and %v",
					i, len(result.Meshes), result.Errors)
			}
		} else if len(result.Errors) == 0 {
			t.Errorf("iteration %d: expected an error for broken source", i)
		}
	}
}

// ---------------------------------------------------------------------------
// 6. Multiple groups: two groups in one source -> meshes from both.
// ---------------------------------------------------------------------------

func TestE2EMultipleGroupsWithSharedBodies(t *testing.T) {
	app := quietApp()

	source := `
(def gel (material :name "gel" :stiffness 500))

(defbody "cube" (volume :size (vec3 1 1 1) :material gel))
(defbody "ball" (surface (sphere 0.4) :material gel))

(group "left"
  (place (body "cube") :at (vec3 -3 0 0))
  (place (body "ball") :at (vec3 -3 2 0)))

(group "right"
  (place (body "cube") :at (vec3 3 0 0))
  (place (body "ball") :at (vec3 3 2 0)))
`
	result := app.Evaluate(source)
	requireNoErrors(t, result)

	// Each group places both bodies.
	if len(result.Meshes) != 4 {
		t.Fatalf("expected 4 meshes from two groups sharing bodies, got %d", len(result.Meshes))
	}
	counts := make(map[string]int)
	for _, m := range result.Meshes {
		counts[m.BodyName]++
		if len(m.Vertices) == 0 {
			t.Errorf("mesh %q should have vertices", m.BodyName)
		}
	}
	if counts["cube"] != 2 || counts["ball"] != 2 {
		t.Errorf("expected each body twice, got %v", counts)
	}
}

func TestE2EStandaloneBodies(t *testing.T) {
	app := quietApp()

	source := `
(defbody "top" (volume :size (vec3 1 1 1)))
(defbody "bottom" (volume :size (vec3 1 1 1)))
`
	result := app.Evaluate(source)
	requireNoErrors(t, result)

	// Unparented bodies are roots of their own.
	if len(result.Meshes) != 2 {
		t.Fatalf("expected 2 meshes from two standalone bodies, got %d", len(result.Meshes))
	}
	names := make(map[string]bool)
	for _, m := range result.Meshes {
		names[m.BodyName] = true
	}
	if !names["top"] || !names["bottom"] {
		t.Errorf("missing meshes, got %v", names)
	}
}

// ---------------------------------------------------------------------------
// 7. Comments and whitespace only -> 0 meshes, 0 errors.
// ---------------------------------------------------------------------------

func TestE2ECommentsAndWhitespace(t *testing.T) {
	sources := map[string]string{
		"comments":   ";; This is a comment\n;; Another comment\n; And another\n",
		"indented":   "  ;; leading whitespace\n  ; tabs\teverywhere\n",
		"whitespace": "   \n\t\n   \n",
	}
	for name, source := range sources {
		t.Run(name, func(t *testing.T) {
			app := quietApp()
			result := app.Simulate(source, ModeAuto)
			if len(result.Errors) > 0 {
				t.Errorf("unexpected errors: %v", result.Errors)
			}
			if len(result.Meshes) != 0 {
				t.Errorf("expected 0 meshes, got %d", len(result.Meshes))
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 8. Nested expressions: def with arithmetic, then use in a body.
// ---------------------------------------------------------------------------

func TestE2EArithmeticDefs(t *testing.T) {
	app := quietApp()

	source := `
(def base-length 4)
(def margin 0.5)
(def inner-length (- base-length (* 2 margin)))
(def half (/ inner-length 2))

(defbody "inner" (volume :size (vec3 inner-length half 1) :cells (list 3 1 1)))
`
	result := app.Evaluate(source)
	requireNoErrors(t, result)

	if len(result.Meshes) != 1 {
		t.Fatalf("expected 1 mesh, got %d", len(result.Meshes))
	}
	// inner-length = 4 - 2*0.5 = 3, centered on the origin.
	m := result.Meshes[0]
	lo, hi := float32(0), float32(0)
	for i := 0; i < len(m.Vertices); i += 3 {
		lo = min(lo, m.Vertices[i])
		hi = max(hi, m.Vertices[i])
	}
	if hi-lo < 2.999 || hi-lo > 3.001 {
		t.Errorf("expected an x extent of 3, got %g", hi-lo)
	}
}

// ---------------------------------------------------------------------------
// Additional edge cases
// ---------------------------------------------------------------------------

func TestE2EDefbodyMissingBody(t *testing.T) {
	app := quietApp()

	result := app.Evaluate(`(defbody "oops")`)
	if len(result.Errors) == 0 {
		t.Fatal("expected eval error for defbody with no body")
	}
}

func TestE2EGroupNoChildren(t *testing.T) {
	app := quietApp()

	result := app.Simulate(`(group "empty")`, ModeAuto)

	// Must not panic. An empty group has nothing to simulate.
	if len(result.Errors) > 0 {
		t.Logf("empty group produced error (acceptable): %s", result.Errors[0].Message)
		return
	}
	if len(result.Meshes) != 0 {
		t.Errorf("expected 0 meshes for empty group, got %d", len(result.Meshes))
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w.Message, "no bodies") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a 'no bodies' warning, got %v", result.Warnings)
	}
}

func TestE2EFloatingPointDimensions(t *testing.T) {
	app := quietApp()

	source := `(defbody "precise" (volume :size (vec3 1.23456 0.789 0.127) :cells (list 3 2 1)))`
	result := app.Evaluate(source)
	requireNoErrors(t, result)

	if len(result.Meshes) != 1 {
		t.Fatalf("expected 1 mesh, got %d", len(result.Meshes))
	}
	// (3+1) * (2+1) * (1+1) grid nodes.
	if result.Meshes[0].Nodes != 24 {
		t.Errorf("expected 24 nodes, got %d", result.Meshes[0].Nodes)
	}
}

func TestE2EColorPaletteWrapping(t *testing.T) {
	app := quietApp()

	// More bodies than the palette has colors.
	var sb strings.Builder
	sb.WriteString(`(defbody "cube" (volume :size (vec3 1 1 1)))` + "\n(group \"row\"\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "  (place (body \"cube\") :at (vec3 %d 0 0))\n", 2*i)
	}
	sb.WriteString(")\n")

	result := app.Evaluate(sb.String())
	requireNoErrors(t, result)

	if len(result.Meshes) != 10 {
		t.Fatalf("expected 10 meshes, got %d", len(result.Meshes))
	}
	for i, m := range result.Meshes {
		if m.Color == "" {
			t.Errorf("mesh %d should have a color assigned", i)
		}
		if want := colorPalette[i%len(colorPalette)]; m.Color != want {
			t.Errorf("mesh %d: color %s, want %s", i, m.Color, want)
		}
	}
}
