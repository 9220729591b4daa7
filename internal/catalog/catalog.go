package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Catalog is the static city → neighborhoods map that scopes captain search
// and registration choices.
type Catalog struct {
	cities map[string][]string
}

// Default returns the built-in catalog for the supported launch cities.
func Default() *Catalog {
	return &Catalog{cities: map[string][]string{
		"الرياض": {"النزهة", "الملز", "العليا", "السليمانية", "الروضة", "النسيم"},
		"جدة":    {"الحمراء", "الروضة", "السلامة", "الصفا", "النعيم"},
	}}
}

// Load reads the city map from a JSON file of the shape
// {"city": ["neighborhood", ...], ...}.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cities map[string][]string
	if err := json.Unmarshal(b, &cities); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(cities) == 0 {
		return nil, fmt.Errorf("catalog %s lists no cities", path)
	}
	return &Catalog{cities: cities}, nil
}

func (c *Catalog) Cities() []string {
	out := make([]string, 0, len(c.cities))
	for city := range c.cities {
		out = append(out, city)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Neighborhoods(city string) []string {
	return append([]string(nil), c.cities[city]...)
}

func (c *Catalog) ValidCity(city string) bool {
	_, ok := c.cities[city]
	return ok
}

func (c *Catalog) ValidNeighborhood(city, neighborhood string) bool {
	for _, n := range c.cities[city] {
		if n == neighborhood {
			return true
		}
	}
	return false
}
