package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.GetString("anything"); ok {
		t.Error("empty store returned a value")
	}
}

func TestSetGetRoundtrip(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Set("sender_pseudo_id", "00000000000000aa"); err != nil {
		t.Fatalf("Set string: %v", err)
	}
	if err := s.Set("scream_threshold", 0.85); err != nil {
		t.Fatalf("Set float: %v", err)
	}
	if err := s.Set("share_location", true); err != nil {
		t.Fatalf("Set bool: %v", err)
	}
	if err := s.Set("max_helpers", 8); err != nil {
		t.Fatalf("Set int: %v", err)
	}

	if v, ok := s.GetString("sender_pseudo_id"); !ok || v != "00000000000000aa" {
		t.Errorf("GetString = %q, %v", v, ok)
	}
	if v, ok := s.GetFloat("scream_threshold"); !ok || v != 0.85 {
		t.Errorf("GetFloat = %v, %v", v, ok)
	}
	if v, ok := s.GetBool("share_location"); !ok || !v {
		t.Errorf("GetBool = %v, %v", v, ok)
	}
	if v, ok := s.GetFloat("max_helpers"); !ok || v != 8 {
		t.Errorf("int stored as float = %v, %v", v, ok)
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("sender_pseudo_id", "00000000000000bb"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, ok := reopened.GetString("sender_pseudo_id"); !ok || v != "00000000000000bb" {
		t.Errorf("reopened value = %q, %v", v, ok)
	}
}

func TestSetRejectsUnsupportedType(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("bad", []string{"x"}); err == nil {
		t.Error("slice value accepted")
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Error("corrupt file accepted")
	}
}
