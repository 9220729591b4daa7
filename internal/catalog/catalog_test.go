package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if !c.ValidCity("الرياض") || !c.ValidCity("جدة") {
		t.Fatal("launch cities missing from default catalog")
	}
	if c.ValidCity("دبي") {
		t.Fatal("unknown city accepted")
	}
	if !c.ValidNeighborhood("الرياض", "النزهة") {
		t.Fatal("known neighborhood rejected")
	}
	if c.ValidNeighborhood("جدة", "النزهة") {
		t.Fatal("neighborhood accepted for the wrong city")
	}
	if c.ValidNeighborhood("دبي", "النزهة") {
		t.Fatal("neighborhood accepted for unknown city")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.json")
	data := `{"الدمام": ["الشاطئ", "الفيصلية"]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.ValidNeighborhood("الدمام", "الشاطئ") {
		t.Fatal("loaded neighborhood rejected")
	}
	if c.ValidCity("الرياض") {
		t.Fatal("loaded catalog must replace the default, not extend it")
	}

	cities := c.Cities()
	if len(cities) != 1 || cities[0] != "الدمام" {
		t.Fatalf("cities=%v", cities)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}
