package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewKnownTypes(t *testing.T) {
	for _, name := range Names {
		c, err := New(name, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if c.Type() != name {
			t.Fatalf("expected type %s, got %s", name, c.Type())
		}
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New("RandomForestClassifier", nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if Known("__import__") {
		t.Fatal("arbitrary names must not resolve")
	}
}

func TestRoundTripPreservesState(t *testing.T) {
	for _, name := range Names {
		c, err := New(name, map[string]interface{}{})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := c.PartialFit([]float64{1, 2}, 1, Classes(3)); err != nil {
			t.Fatalf("%s: fit: %v", name, err)
		}
		before, err := c.Predict([]float64{1, 2})
		if err != nil {
			t.Fatalf("%s: predict: %v", name, err)
		}

		blob, err := Marshal(c)
		if err != nil {
			t.Fatalf("%s: marshal: %v", name, err)
		}
		restored, err := Unmarshal(blob)
		if err != nil {
			t.Fatalf("%s: unmarshal: %v", name, err)
		}
		after, err := restored.Predict([]float64{1, 2})
		if err != nil {
			t.Fatalf("%s: predict restored: %v", name, err)
		}
		if before != after {
			t.Fatalf("%s: prediction changed across round trip: %d vs %d", name, before, after)
		}

		if err := restored.PartialFit([]float64{2, 1}, 0, Classes(3)); err != nil {
			t.Fatalf("%s: fit restored: %v", name, err)
		}
		next, _ := Marshal(restored)
		if string(next) == string(blob) {
			t.Fatalf("%s: expected state to advance after training", name)
		}
	}
}

func TestUnmarshalCorrupt(t *testing.T) {
	for _, blob := range []string{"", "not json", `{"type":"Nope","state":{}}`, `{"type":"SGDClassifier"}`, `{"type":"SGDClassifier","state":[1]}`} {
		if _, err := Unmarshal([]byte(blob)); !errors.Is(err, ErrCorruptState) {
			t.Fatalf("blob %q: expected ErrCorruptState, got %v", blob, err)
		}
	}
}

func TestCatalogDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "classifiers:\n  SGDClassifier:\n    loss: log_loss\n    alpha: 0.001\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	merged := cat.Params("SGDClassifier", map[string]interface{}{"alpha": 0.01})
	if merged["loss"] != "log_loss" || merged["alpha"] != 0.01 {
		t.Fatalf("unexpected merge %v", merged)
	}

	c, err := cat.New("SGDClassifier", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Type() != "SGDClassifier" {
		t.Fatalf("unexpected type %s", c.Type())
	}
}

func TestCatalogRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("classifiers:\n  SVC: {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(path); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
