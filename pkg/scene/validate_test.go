package scene

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// buildTwoCubes creates a valid scene: two volume bodies, the second one
// placed by a transform, both under a group root.
func buildTwoCubes() *Scene {
	s := New()

	leftID := NewNodeID("body/left")
	rightID := NewNodeID("body/right")
	placeID := NewNodeID("place/right")
	groupID := NewNodeID("group/pair")

	cube := BodyData{
		Kind:     BodyVolume,
		Material: DefaultMaterial(),
		Size:     Vec3{X: 1, Y: 1, Z: 1},
		Cells:    [3]int{1, 1, 1},
	}
	s.AddNode(&Node{ID: leftID, Kind: NodeBody, Name: "left", Data: cube})
	s.AddNode(&Node{ID: rightID, Kind: NodeBody, Name: "right", Data: cube})
	at := Vec3{X: 0.9}
	s.AddNode(&Node{
		ID: placeID, Kind: NodeTransform,
		Children: []NodeID{rightID},
		Data:     TransformData{Translation: &at},
	})
	s.AddNode(&Node{
		ID: groupID, Kind: NodeGroup, Name: "pair",
		Children: []NodeID{leftID, placeID},
		Data:     GroupData{},
	})
	s.AddRoot(groupID)

	return s
}

// hasError returns true if errs contains at least one error-severity finding
// whose message contains substr.
func hasError(errs []ValidationError, substr string) bool {
	for _, e := range errs {
		if e.Severity == SeverityError && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// hasWarning returns true if errs contains a warning-severity finding whose
// message contains substr.
func hasWarning(errs []ValidationError, substr string) bool {
	for _, e := range errs {
		if e.Severity == SeverityWarning && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Tier 1
// ---------------------------------------------------------------------------

func TestValidSceneHasNoFindings(t *testing.T) {
	if errs := Validate(buildTwoCubes()); len(errs) != 0 {
		t.Fatalf("expected no findings, got %v", errs)
	}
	res := ValidateAll(buildTwoCubes())
	if !res.OK() || len(res.Warnings) != 0 {
		t.Fatalf("expected a clean result, got %+v", res)
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	s := buildTwoCubes()
	group := s.Lookup("pair")
	place := s.Get(NewNodeID("place/right"))
	place.Children = append(place.Children, group.ID)

	if !hasError(Validate(s), "cycle detected") {
		t.Fatal("expected a cycle error")
	}
}

func TestValidateDanglingChild(t *testing.T) {
	s := buildTwoCubes()
	group := s.Lookup("pair")
	group.Children = append(group.Children, NewNodeID("body/ghost"))

	if !hasError(Validate(s), "does not exist") {
		t.Fatal("expected a dangling reference error")
	}
}

func TestValidateDuplicateNames(t *testing.T) {
	s := buildTwoCubes()
	s.AddNode(&Node{ID: NewNodeID("body/left-2"), Kind: NodeBody, Name: "left", Data: s.Lookup("left").Data})
	s.Lookup("pair").Children = append(s.Lookup("pair").Children, NewNodeID("body/left-2"))

	if !hasError(Validate(s), `duplicate name "left"`) {
		t.Fatal("expected a duplicate name error")
	}
}

func TestValidateRoots(t *testing.T) {
	s := buildTwoCubes()
	s.AddRoot(NewNodeID("group/missing"))
	s.AddNode(&Node{ID: NewNodeID("body/stray"), Kind: NodeBody, Name: "stray", Data: BodyData{}})

	errs := Validate(s)
	if !hasError(errs, "root reference") {
		t.Error("expected a missing root error")
	}
	if !hasWarning(errs, `"stray" is not reachable`) {
		t.Error("expected an orphan warning")
	}

	res := ValidateAll(s)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w.Message, "orphan") {
			found = true
		}
	}
	if !found {
		t.Error("orphan warning not moved to Warnings")
	}
}

func TestValidateKinds(t *testing.T) {
	s := buildTwoCubes()
	s.Lookup("left").Data = GroupData{}
	s.Lookup("right").Children = []NodeID{s.Lookup("left").ID}

	errs := Validate(s)
	if !hasError(errs, "body node carries scene.GroupData data") {
		t.Errorf("expected a payload error, got %v", errs)
	}
	if !hasError(errs, "body has children") {
		t.Errorf("expected a leaf error, got %v", errs)
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Message: "bad", Severity: SeverityError}
	if got := e.Error(); got != "[error] bad" {
		t.Errorf("Error() = %q", got)
	}
	id := NewNodeID("x")
	e = ValidationError{NodeID: id, Message: "odd", Severity: SeverityWarning}
	if got, want := e.Error(), "[warning] node "+id.Short()+": odd"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
