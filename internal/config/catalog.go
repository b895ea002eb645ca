package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MeetingEntry is one destination in a seed catalog.
type MeetingEntry struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Address      string  `yaml:"address"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	RadiusMeters float64 `yaml:"radius_meters"`
	Active       *bool   `yaml:"active"`
}

// MeetingCatalog is the YAML document read by the seed command:
//
//	meetings:
//	  - id: convention-center
//	    name: Convention Center
//	    address: 1400 J St, Sacramento, CA
//	    latitude: 38.5816
//	    longitude: -121.4944
//	    radius_meters: 100
type MeetingCatalog struct {
	Meetings []MeetingEntry `yaml:"meetings"`
}

// LoadMeetingCatalog reads and checks a catalog file.
func LoadMeetingCatalog(path string) (MeetingCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return MeetingCatalog{}, fmt.Errorf("config: open catalog: %w", err)
	}
	defer f.Close()
	return ParseMeetingCatalog(f)
}

// ParseMeetingCatalog decodes a catalog. Every entry needs a unique id so that reseeding
// updates rows in place.
func ParseMeetingCatalog(r io.Reader) (MeetingCatalog, error) {
	var catalog MeetingCatalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return MeetingCatalog{}, errors.New("config: catalog is empty")
		}
		return MeetingCatalog{}, fmt.Errorf("config: decode catalog: %w", err)
	}

	seen := make(map[string]int, len(catalog.Meetings))
	var problems []string
	for i, entry := range catalog.Meetings {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			problems = append(problems, fmt.Sprintf("meetings[%d]: id is required", i))
			continue
		}
		if prev, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("meetings[%d]: id %q already used by meetings[%d]", i, id, prev))
			continue
		}
		seen[id] = i
		catalog.Meetings[i].ID = id
	}
	if len(problems) > 0 {
		return MeetingCatalog{}, fmt.Errorf("config: invalid catalog: %s", strings.Join(problems, "; "))
	}
	return catalog, nil
}
