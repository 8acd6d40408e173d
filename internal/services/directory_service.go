package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
)

// DirectoryService answers recipient-resolution queries: current team rosters
// and users holding privileged roles. Lookups run at call time so membership
// changes are always reflected.
type DirectoryService struct {
	db *gorm.DB
}

// NewDirectoryService constructs a DirectoryService.
func NewDirectoryService(db *gorm.DB) (*DirectoryService, error) {
	if db == nil {
		return nil, errors.New("directory service: db is required")
	}
	return &DirectoryService{db: db}, nil
}

// TeamMemberIDs returns the ids of every active member of the team.
func (s *DirectoryService) TeamMemberIDs(ctx context.Context, teamID string) ([]string, error) {
	ctx = ensureContext(ctx)
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, errors.New("directory service: team id is required")
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Joins("JOIN user_teams ON user_teams.user_id = users.id").
		Where("user_teams.team_id = ? AND users.is_active = ?", teamID, true).
		Pluck("users.id", &ids).Error; err != nil {
		return nil, fmt.Errorf("directory service: team roster: %w", err)
	}

	return normaliseIDs(ids), nil
}

// UserIDsWithRole returns the ids of active users holding any of the supplied
// privileged roles.
func (s *DirectoryService) UserIDsWithRole(ctx context.Context, roles ...string) ([]string, error) {
	ctx = ensureContext(ctx)
	roles = normaliseIDs(roles)
	if len(roles) == 0 {
		return nil, errors.New("directory service: at least one role is required")
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role IN ? AND is_active = ?", roles, true).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("directory service: role lookup: %w", err)
	}

	return normaliseIDs(ids), nil
}
