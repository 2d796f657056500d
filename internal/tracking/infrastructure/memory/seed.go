package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	tracking "geotrack-cloud/internal/tracking/domain"
)

// SeedFile lists devices to preload when running without a database.
type SeedFile struct {
	Devices []SeedDevice `yaml:"devices"`
}

// SeedDevice is one device entry of a seed file.
type SeedDevice struct {
	ExternalID string           `yaml:"external_id"`
	Name       string           `yaml:"name"`
	LastSeen   string           `yaml:"last_seen"`
	Geofence   [][][][2]float64 `yaml:"geofence"`
}

// LoadSeed reads a YAML seed file into the store.
func LoadSeed(store *Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return ApplySeed(store, data)
}

// ApplySeed decodes YAML seed content into the store.
func ApplySeed(store *Store, data []byte) (int, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("memory seed: %w", err)
	}
	for i, entry := range seed.Devices {
		device := tracking.Device{
			ExternalID: entry.ExternalID,
			Name:       entry.Name,
		}
		if entry.LastSeen != "" {
			lastSeen, err := time.Parse(time.RFC3339, entry.LastSeen)
			if err != nil {
				return i, fmt.Errorf("memory seed: device %s: last_seen: %w", entry.ExternalID, err)
			}
			ts := lastSeen.UTC()
			device.LastSeen = &ts
			device.IsActive = true
		}
		for _, polygon := range entry.Geofence {
			rings := make(tracking.Polygon, 0, len(polygon))
			for _, ring := range polygon {
				rings = append(rings, tracking.Ring(ring))
			}
			device.Geofence = append(device.Geofence, rings)
		}
		if err := store.PutDevice(device); err != nil {
			return i, fmt.Errorf("memory seed: device %q: %w", entry.ExternalID, err)
		}
	}
	return len(seed.Devices), nil
}
