// Package rbac resolves actor identities to roles and permission sets. The
// role to permission mapping is a fixed process-wide table, so permission
// derivation is a pure function of role.
package rbac

import "fmt"

// Role is the access level assigned to a roster entry.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a roster role value.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEmployee, RoleManager, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Permission names a single capability an actor may hold.
type Permission string

const (
	PermViewDocuments     Permission = "view_documents"
	PermUploadDocuments   Permission = "upload_documents"
	PermDownloadDocuments Permission = "download_documents"

	PermApproveDocuments Permission = "approve_documents"
	PermRejectDocuments  Permission = "reject_documents"
	PermDelegateApproval Permission = "delegate_approval"

	PermManageUsers     Permission = "manage_users"
	PermManageWorkflows Permission = "manage_workflows"
	PermViewStatistics  Permission = "view_statistics"
)

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleEmployee: permSet(
		PermViewDocuments,
		PermUploadDocuments,
		PermDownloadDocuments,
	),
	RoleManager: permSet(
		PermViewDocuments,
		PermUploadDocuments,
		PermDownloadDocuments,
		PermApproveDocuments,
		PermRejectDocuments,
		PermDelegateApproval,
	),
	RoleAdmin: permSet(
		PermViewDocuments,
		PermUploadDocuments,
		PermDownloadDocuments,
		PermApproveDocuments,
		PermRejectDocuments,
		PermDelegateApproval,
		PermManageUsers,
		PermManageWorkflows,
		PermViewStatistics,
	),
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ActorEntry is one row in the permission roster.
type ActorEntry struct {
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
	FullName string `json:"full_name"`
	Active   bool   `json:"active"`
}

// HasPermission reports whether the entry's role grants the permission. Pure
// function over the fixed table; no I/O.
func HasPermission(entry *ActorEntry, perm Permission) bool {
	if entry == nil {
		return false
	}
	perms, ok := rolePermissions[entry.Role]
	if !ok {
		return false
	}
	_, ok = perms[perm]
	return ok
}
