package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type grantsFile struct {
	Brands map[string]brandGrants `yaml:"brands"`
}

type brandGrants struct {
	Admins []string            `yaml:"admins"`
	Roles  map[string][]string `yaml:"roles"`
}

// Static is a Directory backed by a YAML grants file mapping brands to role
// memberships and designated administrators. Suitable for config-driven
// deployments and tests.
type Static struct {
	path   string
	mu     sync.RWMutex
	grants grantsFile
}

// NewStatic creates a Static directory that loads grants from path.
func NewStatic(path string) (*Static, error) {
	d := &Static{path: path}
	if err := d.Sync(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewStaticFromGrants creates a Static directory from in-memory grants.
// Keys of roles map role names to member user ids; admins lists the brand's
// designated administrators.
func NewStaticFromGrants(brands map[string]map[string][]string, admins map[string][]string) *Static {
	g := grantsFile{Brands: make(map[string]brandGrants, len(brands))}
	for brandID, roles := range brands {
		g.Brands[brandID] = brandGrants{Roles: roles, Admins: admins[brandID]}
	}
	for brandID, adminIDs := range admins {
		if _, ok := g.Brands[brandID]; !ok {
			g.Brands[brandID] = brandGrants{Admins: adminIDs}
		}
	}
	return &Static{grants: g}
}

// HasRole reports whether the user holds the role on the brand.
func (d *Static) HasRole(_ context.Context, userID, brandID, role string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, u := range d.grants.Brands[brandID].Roles[role] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// UsersWithRole returns all users holding the role on the brand. The result
// is a copy; callers may mutate it freely.
func (d *Static) UsersWithRole(_ context.Context, brandID, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.grants.Brands[brandID].Roles[role]
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

// IsBrandAdmin reports whether the user is a designated administrator of the
// brand.
func (d *Static) IsBrandAdmin(_ context.Context, userID, brandID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, u := range d.grants.Brands[brandID].Admins {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// Sync reloads the grants file from disk.
func (d *Static) Sync() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("directory: reading grants file %s: %w", d.path, err)
	}

	var g grantsFile
	if err := yaml.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("directory: parsing grants file %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.grants = g
	d.mu.Unlock()

	return nil
}
