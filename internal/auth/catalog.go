package auth

import "fmt"

// Permission keys use the form "resource:action". A grant of "resource:*"
// covers every action on the resource; the bare "*" covers everything.
const (
	PermOrgCreate = "organization:create"
	PermOrgRead   = "organization:read"
	PermOrgUpdate = "organization:update"
	PermOrgDelete = "organization:delete"

	PermUserCreate      = "user:create"
	PermUserRead        = "user:read"
	PermUserUpdate      = "user:update"
	PermUserDelete      = "user:delete"
	PermUserManageRoles = "user:manage_roles"

	PermEquipmentCreate      = "equipment:create"
	PermEquipmentRead        = "equipment:read"
	PermEquipmentUpdate      = "equipment:update"
	PermEquipmentDelete      = "equipment:delete"
	PermEquipmentReportIssue = "equipment:report_issue"

	PermWorkOrderCreate   = "workorder:create"
	PermWorkOrderRead     = "workorder:read"
	PermWorkOrderUpdate   = "workorder:update"
	PermWorkOrderDelete   = "workorder:delete"
	PermWorkOrderAssign   = "workorder:assign"
	PermWorkOrderComplete = "workorder:complete"

	PermScheduleCreate = "schedule:create"
	PermScheduleRead   = "schedule:read"
	PermScheduleUpdate = "schedule:update"
	PermScheduleDelete = "schedule:delete"

	PermPartsCreate = "parts:create"
	PermPartsRead   = "parts:read"
	PermPartsUpdate = "parts:update"
	PermPartsDelete = "parts:delete"
	PermPartsUse    = "parts:use"

	PermReportCreate = "report:create"
	PermReportRead   = "report:read"
	PermReportUpdate = "report:update"
	PermReportDelete = "report:delete"
	PermReportExport = "report:export"

	PermSettingsManage     = "settings:manage"
	PermAuditRead          = "audit:read"
	PermNotificationManage = "notification:manage"
)

// Canonical role names. The set is fixed at deployment time.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleTechnician = "technician"
)

// roleLevels orders roles by authority; 1 is highest.
var roleLevels = map[string]int{
	RoleSuperAdmin: 1,
	RoleAdmin:      2,
	RoleManager:    3,
	RoleTechnician: 4,
}

// rolePermissions is the static catalog loaded once at process start.
// It is read-only; administrative permission editing is out of scope.
var rolePermissions = map[string][]string{
	RoleSuperAdmin: {"*"},

	RoleAdmin: {
		PermOrgRead, PermOrgUpdate,
		PermUserCreate, PermUserRead, PermUserUpdate, PermUserDelete, PermUserManageRoles,
		PermEquipmentCreate, PermEquipmentRead, PermEquipmentUpdate, PermEquipmentDelete, PermEquipmentReportIssue,
		PermWorkOrderCreate, PermWorkOrderRead, PermWorkOrderUpdate, PermWorkOrderDelete, PermWorkOrderAssign, PermWorkOrderComplete,
		PermScheduleCreate, PermScheduleRead, PermScheduleUpdate, PermScheduleDelete,
		PermPartsCreate, PermPartsRead, PermPartsUpdate, PermPartsDelete, PermPartsUse,
		PermReportCreate, PermReportRead, PermReportExport,
		PermSettingsManage, PermAuditRead,
	},

	RoleManager: {
		PermUserRead,
		PermEquipmentCreate, PermEquipmentRead, PermEquipmentUpdate, PermEquipmentDelete, PermEquipmentReportIssue,
		PermWorkOrderCreate, PermWorkOrderRead, PermWorkOrderUpdate, PermWorkOrderDelete, PermWorkOrderAssign, PermWorkOrderComplete,
		PermScheduleCreate, PermScheduleRead, PermScheduleUpdate, PermScheduleDelete,
		PermPartsCreate, PermPartsRead, PermPartsUpdate, PermPartsDelete, PermPartsUse,
		PermReportCreate, PermReportRead, PermReportExport,
	},

	RoleTechnician: {
		PermEquipmentRead, PermEquipmentUpdate, PermEquipmentReportIssue,
		PermWorkOrderCreate, PermWorkOrderRead, PermWorkOrderUpdate, PermWorkOrderComplete,
		PermScheduleRead,
		PermPartsRead, PermPartsUse,
		PermReportRead,
	},
}

// PermissionsFor returns a copy of the grant set for a role.
func PermissionsFor(role string) ([]string, error) {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out, nil
}

// Roles returns the seeded role names.
func Roles() []string {
	return []string{RoleSuperAdmin, RoleAdmin, RoleManager, RoleTechnician}
}

// RoleLevel returns the authority level of a role (1 = highest) or an
// error for a name outside the seeded set.
func RoleLevel(role string) (int, error) {
	level, ok := roleLevels[role]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return level, nil
}

// CanManageRole reports whether manager may assign target. Roles can only
// hand out roles strictly below their own level, which blocks privilege
// escalation.
func CanManageRole(manager, target string) bool {
	managerLevel, ok := roleLevels[manager]
	if !ok {
		return false
	}
	targetLevel, ok := roleLevels[target]
	if !ok {
		return false
	}
	return managerLevel < targetLevel
}
