package service

import (
	"fmt"

	"Evergreen.telemetry/internal/directory"
	"Evergreen.telemetry/internal/models"
)

// UserService manages dashboard accounts. Every operation requires an admin caller.
type UserService struct {
	dir *directory.Directory
}

func NewUserService(dir *directory.Directory) *UserService {
	return &UserService{dir: dir}
}

func requireAdmin(caller models.User) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("%w: user management requires the ADMIN role", models.ErrAccessDenied)
	}
	return nil
}

func (s *UserService) List(caller models.User) ([]models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.dir.Users(), nil
}

func (s *UserService) Create(caller models.User, u models.User) (models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return models.User{}, err
	}
	// Admins see every basin, so no allow-list is kept for them.
	if u.Role == models.RoleAdmin {
		u.AllowedBasinIDs = nil
	}
	return s.dir.AddUser(u)
}

func (s *UserService) Delete(caller models.User, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if id == caller.ID {
		return fmt.Errorf("%w: cannot remove the calling user", models.ErrInvalidRequest)
	}
	return s.dir.RemoveUser(id)
}

func (s *UserService) SetAllowedBasins(caller models.User, id string, basinIDs []string) (models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return models.User{}, err
	}
	return s.dir.SetAllowedBasins(id, basinIDs)
}
