package realtime

import (
	"sort"

	"messenger-console/models"
)

const AdminGroup = "admin"

// PageGroup names the group for one page.
func PageGroup(pageID string) string {
	return "page:" + pageID
}

// Scope is the set of groups a session belongs to. It is computed once when
// the session connects and never re-read from the assignment table.
type Scope struct {
	UserID uint
	Admin  bool
	pages  map[string]struct{}
}

// ComputeScope derives a session's groups from its user and assignments.
func ComputeScope(userID uint, role string, assignedPages []string) Scope {
	s := Scope{
		UserID: userID,
		Admin:  role == models.RoleAdmin,
		pages:  make(map[string]struct{}, len(assignedPages)),
	}
	for _, p := range assignedPages {
		if p != "" {
			s.pages[p] = struct{}{}
		}
	}
	return s
}

// Groups lists the group names, sorted.
func (s Scope) Groups() []string {
	groups := make([]string, 0, len(s.pages)+1)
	for p := range s.pages {
		groups = append(groups, PageGroup(p))
	}
	sort.Strings(groups)
	if s.Admin {
		groups = append(groups, AdminGroup)
	}
	return groups
}

// Receives reports whether an event for pageID reaches this scope: members of
// the page group and every admin.
func (s Scope) Receives(pageID string) bool {
	if s.Admin {
		return true
	}
	_, ok := s.pages[pageID]
	return ok
}
