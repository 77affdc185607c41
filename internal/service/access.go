package service

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"Evergreen.telemetry/internal/directory"
	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/repository"
	"github.com/chrispappas/golang-generics-set/set"
)

// AccessFilter decides which basins a user may read.
type AccessFilter struct {
	repo repository.Repository
	dir  *directory.Directory
}

func NewAccessFilter(repo repository.Repository, dir *directory.Directory) *AccessFilter {
	return &AccessFilter{repo: repo, dir: dir}
}

// KnownBasinIDs is every basin that has reported or is listed in the directory.
func (a *AccessFilter) KnownBasinIDs(ctx context.Context) (set.Set[string], error) {
	ids, err := a.repo.BasinIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := set.FromSlice(ids)
	for _, id := range a.dir.BasinIDs() {
		known.Add(id)
	}
	return known, nil
}

// VisibleBasinIDs returns all known basins for admins, and the user's allowed
// basins that are known for everyone else.
func (a *AccessFilter) VisibleBasinIDs(ctx context.Context, user models.User) (set.Set[string], error) {
	known, err := a.KnownBasinIDs(ctx)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin() {
		return known, nil
	}

	visible := set.FromSlice([]string{})
	for _, id := range user.AllowedBasinIDs {
		if known.Has(id) {
			visible.Add(id)
		}
	}
	return visible, nil
}

// Authorize fails with ErrAccessDenied when basinID is outside the user's
// visibility set. Only basinID itself is looked up.
func (a *AccessFilter) Authorize(ctx context.Context, user models.User, basinID string) error {
	if user.IsAdmin() {
		return nil
	}
	if !slices.Contains(user.AllowedBasinIDs, basinID) {
		return fmt.Errorf("%w: basin %q", models.ErrAccessDenied, basinID)
	}
	if _, ok := a.dir.Basin(basinID); ok {
		return nil
	}
	_, ok, err := a.repo.Latest(ctx, basinID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: basin %q", models.ErrAccessDenied, basinID)
	}
	return nil
}

func sortedIDs(s set.Set[string]) []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
