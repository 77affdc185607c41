package directory

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"Evergreen.telemetry/internal/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// File is the on-disk seed of the directory.
type File struct {
	Users  []models.User  `yaml:"users"`
	Basins []models.Basin `yaml:"basins"`
}

// Directory holds dashboard users and basin metadata.
type Directory struct {
	mu     sync.RWMutex
	users  map[string]models.User
	basins map[string]models.Basin
}

func New() *Directory {
	return &Directory{
		users:  map[string]models.User{},
		basins: map[string]models.Basin{},
	}
}

// Load reads a YAML seed file. A missing file yields an empty directory.
func Load(path string) (*Directory, error) {
	d := New()
	if path == "" {
		return d, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}
	if err := d.Seed(f); err != nil {
		return nil, fmt.Errorf("directory %s: %w", path, err)
	}
	return d, nil
}

func (d *Directory) Seed(f File) error {
	for _, b := range f.Basins {
		if b.ID == "" {
			return fmt.Errorf("basin without id")
		}
		d.PutBasin(b)
	}
	for _, u := range f.Users {
		if _, err := d.AddUser(u); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) AddUser(u models.User) (models.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return models.User{}, fmt.Errorf("%w: username is required", models.ErrInvalidRequest)
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if !u.Role.Valid() {
		return models.User{}, fmt.Errorf("%w: unknown role %q", models.ErrInvalidRequest, u.Role)
	}
	if u.ID == "" {
		u.ID = "u-" + uuid.NewString()
	}
	u.AllowedBasinIDs = normalize(u.AllowedBasinIDs)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.users {
		if existing.ID == u.ID || existing.Username == u.Username {
			return models.User{}, fmt.Errorf("%w: user %q", models.ErrDuplicate, u.Username)
		}
	}
	d.users[u.ID] = u
	return u, nil
}

func (d *Directory) RemoveUser(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[id]; !ok {
		return fmt.Errorf("%w: user %q", models.ErrNotFound, id)
	}
	delete(d.users, id)
	return nil
}

// SetAllowedBasins replaces the visibility list of a user.
func (d *Directory) SetAllowedBasins(id string, basinIDs []string) (models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("%w: user %q", models.ErrNotFound, id)
	}
	u.AllowedBasinIDs = normalize(basinIDs)
	d.users[id] = u
	return u, nil
}

func (d *Directory) UserByUsername(username string) (models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Username == username {
			return u, true
		}
	}
	return models.User{}, false
}

func (d *Directory) UserByID(id string) (models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Users returns every user ordered by username.
func (d *Directory) Users() []models.User {
	d.mu.RLock()
	out := make([]models.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (d *Directory) PutBasin(b models.Basin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.basins[b.ID] = b
}

func (d *Directory) Basin(id string) (models.Basin, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.basins[id]
	return b, ok
}

func (d *Directory) BasinIDs() []string {
	d.mu.RLock()
	ids := make([]string, 0, len(d.basins))
	for id := range d.basins {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// normalize trims, drops empties and duplicates, and sorts.
func normalize(ids []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
