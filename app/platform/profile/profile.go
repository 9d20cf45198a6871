package profile

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"userdesk/app/database"
	"userdesk/pkg/utils"
)

var ErrNotFound = errors.New("profile not found")

// Service is the accessor for the application-owned user_info table. Rows
// are keyed by the identity account id; that correspondence is convention,
// not a constraint the database enforces.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetByID(id uuid.UUID) (*database.UserInfo, error) {
	var info database.UserInfo
	result := s.db.First(&info, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &info, nil
}

func (s *Service) GetByEmail(email string) (*database.UserInfo, error) {
	var info database.UserInfo
	result := s.db.First(&info, "email = ?", utils.NormalizeEmail(email))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &info, nil
}

// List returns profiles newest first.
func (s *Service) List(limit, offset int) ([]database.UserInfo, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var infos []database.UserInfo
	result := s.db.Limit(limit).Offset(offset).Order("created_at DESC").Find(&infos)
	if result.Error != nil {
		return nil, result.Error
	}
	return infos, nil
}

// Ensure lazily creates the profile row on first successful login, or
// returns the existing one. An invite race that already created the row is
// not an error.
func (s *Service) Ensure(id uuid.UUID, email string) (*database.UserInfo, error) {
	info := database.UserInfo{
		ID:    id,
		Email: utils.NormalizeEmail(email),
		Role:  database.RoleUser,
	}
	result := s.db.Where("id = ?", id).FirstOrCreate(&info)
	if result.Error != nil {
		return nil, result.Error
	}
	return &info, nil
}

// Create inserts or updates the row for an admin-created user. Upsert
// semantics cover the case where an invite race already inserted one.
func (s *Service) Create(info *database.UserInfo) error {
	var existing database.UserInfo
	err := s.db.First(&existing, "id = ?", info.ID).Error
	if err == nil {
		existing.FirstName = info.FirstName
		existing.LastName = info.LastName
		existing.Email = info.Email
		existing.Role = info.Role
		return s.db.Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(info).Error
}

func (s *Service) Update(info *database.UserInfo) error {
	return s.db.Save(info).Error
}

func (s *Service) Delete(id uuid.UUID) error {
	return s.db.Delete(&database.UserInfo{}, "id = ?", id).Error
}

// IsFirstTimeLogin holds exactly until the first TouchLastLogin: the row is
// created with equal timestamps and every later write bumps updated_at.
func (s *Service) IsFirstTimeLogin(info *database.UserInfo) bool {
	return info.CreatedAt.Equal(info.UpdatedAt)
}

// TouchLastLogin records login activity by bumping updated_at.
func (s *Service) TouchLastLogin(id uuid.UUID) error {
	return s.db.Model(&database.UserInfo{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// SetMFAEnabled maintains the informational flag mirrored from the identity
// store's factor state.
func (s *Service) SetMFAEnabled(id uuid.UUID, enabled bool) error {
	return s.db.Model(&database.UserInfo{}).Where("id = ?", id).
		Update("mfa_enabled", enabled).Error
}
