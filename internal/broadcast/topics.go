// Package broadcast fans out typed contest events over the message queue.
// Topics are scoped per contest and, for sensitive data, per role or per
// member: a contestant only sees their own detailed submission stream
// while judges and admins receive everything.
package broadcast

import (
	"fmt"
	"strings"

	contestmodel "arbiter/internal/contest/model"
)

// ContestDashboard is the per-role dashboard stream of one contest.
func ContestDashboard(contestID int64, role contestmodel.Role) string {
	return fmt.Sprintf("contest.%d.dashboard.%s", contestID, strings.ToLower(string(role)))
}

// MemberSubmissions is one member's detailed submission stream.
func MemberSubmissions(contestID, memberID int64) string {
	return fmt.Sprintf("contest.%d.member.%d.submissions", contestID, memberID)
}

// StaffRoles lists the roles that receive full submission detail.
func StaffRoles() []contestmodel.Role {
	return []contestmodel.Role{contestmodel.RoleAdmin, contestmodel.RoleJudge, contestmodel.RoleStaff}
}
