// Package auth gates who may talk to the bot and who may manage its
// knowledge base.
package auth

import (
	"strconv"
	"strings"
)

// PolicyService manages user permissions for the chat surface.
type PolicyService struct {
	AdminUserIDs   map[int64]bool // map of admin user IDs
	AllowedUserIDs map[int64]bool // map of allowed user IDs (if empty, all users are allowed)
}

// NewPolicyService parses comma-separated ID lists into a policy.
func NewPolicyService(adminUserIDsStr, allowedUserIDsStr string) *PolicyService {
	return &PolicyService{
		AdminUserIDs:   parseIDList(adminUserIDsStr),
		AllowedUserIDs: parseIDList(allowedUserIDsStr),
	}
}

// parseIDList splits a comma-separated list of numeric IDs, skipping
// entries that do not parse.
func parseIDList(s string) map[int64]bool {
	ids := make(map[int64]bool)
	if s == "" {
		return ids
	}
	for _, idStr := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin checks if a user is an admin.
func (p *PolicyService) IsAdmin(userID int64) bool {
	return p.AdminUserIDs[userID]
}

// IsAllowed checks if a user is allowed to chat with the bot.
func (p *PolicyService) IsAllowed(userID int64) bool {
	// If the allowed users list is empty, all users are allowed
	if len(p.AllowedUserIDs) == 0 {
		return true
	}

	// Admins are always allowed
	if p.IsAdmin(userID) {
		return true
	}

	return p.AllowedUserIDs[userID]
}

// CanManageKnowledge checks if a user may trigger knowledge base
// operations such as reloading or recreating the index.
func (p *PolicyService) CanManageKnowledge(userID int64) bool {
	return p.IsAdmin(userID)
}
