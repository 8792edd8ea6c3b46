// Package profile loads a node's manifest and simulated-hardware
// behavior from a YAML file, so cmd/node can stand in for any physical
// node described by the fleet config without a recompile.
package profile

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/vedpanse/daemon/internal/daemon"
)

// Profile is the on-disk shape of a node's YAML profile: just the
// manifest. Clamping and telemetry keys come from the manifest's own
// safety and telemetry blocks; the profile adds no fields of its own.
type Profile struct {
	Manifest daemon.Manifest `yaml:"manifest"`
}

// Load reads and parses a profile from fs at path.
func Load(fs afero.Fs, path string) (*Profile, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if err := p.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: invalid manifest: %w", path, err)
	}
	return &p, nil
}

// DefaultFS returns the real OS filesystem; tests substitute
// afero.NewMemMapFs() so profile loading never has to touch disk.
func DefaultFS() afero.Fs {
	return afero.NewOsFs()
}
