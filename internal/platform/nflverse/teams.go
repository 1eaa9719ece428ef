package nflverse

import (
	_ "embed"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed teams.yaml
var defaultTeams []byte

// TeamMap maps nflverse abbreviations to full team names.
type TeamMap map[string]string

// LoadTeamMap returns the embedded map, with entries from the YAML file at
// path layered on top. An empty path returns the embedded map only.
func LoadTeamMap(path string) (TeamMap, error) {
	teams := TeamMap{}
	if err := yaml.Unmarshal(defaultTeams, &teams); err != nil {
		return nil, fmt.Errorf("nflverse: parse embedded team map: %w", err)
	}
	if path == "" {
		return teams, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nflverse: read team map %s: %w", path, err)
	}
	var override TeamMap
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("nflverse: parse team map %s: %w", path, err)
	}
	maps.Copy(teams, override)
	return teams, nil
}

// Name returns the full name for abbr, or abbr itself when unmapped.
func (m TeamMap) Name(abbr string) string {
	if name, ok := m[abbr]; ok {
		return name
	}
	return abbr
}
