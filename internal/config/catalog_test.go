package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseMeetingCatalog(t *testing.T) {
	t.Run("decodes entries", func(t *testing.T) {
		catalog, err := ParseMeetingCatalog(strings.NewReader(`
meetings:
  - id: " convention-center "
    name: Convention Center
    address: 1400 J St, Sacramento, CA
    latitude: 38.5816
    longitude: -121.4944
    radius_meters: 100
  - id: library
    name: Central Library
    address: 828 I St
    latitude: 38.5805
    longitude: -121.4953
    active: false
`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(catalog.Meetings) != 2 {
			t.Fatalf("expected two meetings, got %d", len(catalog.Meetings))
		}
		first := catalog.Meetings[0]
		if first.ID != "convention-center" || first.RadiusMeters != 100 || first.Active != nil {
			t.Fatalf("unexpected first entry %+v", first)
		}
		second := catalog.Meetings[1]
		if second.Active == nil || *second.Active || second.RadiusMeters != 0 {
			t.Fatalf("unexpected second entry %+v", second)
		}
	})

	t.Run("rejects missing and duplicate ids", func(t *testing.T) {
		_, err := ParseMeetingCatalog(strings.NewReader(`
meetings:
  - name: no id
  - id: a
    name: first
  - id: a
    name: second
`))
		if err == nil {
			t.Fatalf("expected catalog error")
		}
		if !strings.Contains(err.Error(), "meetings[0]: id is required") || !strings.Contains(err.Error(), "meetings[2]") {
			t.Fatalf("unexpected error %q", err.Error())
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		_, err := ParseMeetingCatalog(strings.NewReader("meetings:\n  - id: a\n    radius: 5\n"))
		if err == nil {
			t.Fatalf("expected unknown field error")
		}
	})

	t.Run("rejects empty documents", func(t *testing.T) {
		if _, err := ParseMeetingCatalog(strings.NewReader("")); err == nil {
			t.Fatalf("expected empty catalog error")
		}
	})
}

func TestLoadMeetingCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("meetings:\n  - id: a\n    name: A\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog, err := LoadMeetingCatalog(path)
	if err != nil || len(catalog.Meetings) != 1 {
		t.Fatalf("expected one meeting, got %+v (%v)", catalog, err)
	}

	if _, err := LoadMeetingCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
