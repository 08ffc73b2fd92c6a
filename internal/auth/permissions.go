package auth

import "slices"

// Permission names one guarded capability of the HTTP API.
type Permission string

const (
	PermDeviceRead    Permission = "device:read"
	PermLogRead       Permission = "log:read"
	PermDeviceWrite   Permission = "device:write"
	PermDeviceOperate Permission = "device:operate"
	PermConfigWrite   Permission = "config:write"
	PermDeviceRemove  Permission = "device:remove"
	PermConfigImport  Permission = "config:import"
)

// grants holds what each tier adds on top of the tier below it.
var grants = map[Role][]Permission{
	RoleViewer:   {PermDeviceRead, PermLogRead},
	RoleOperator: {PermDeviceWrite, PermDeviceOperate, PermConfigWrite},
	RoleAdmin:    {PermDeviceRemove, PermConfigImport},
}

// PermissionsForRole returns the full permission set of role, inherited
// grants first. Unknown roles get nil.
func PermissionsForRole(role Role) []Permission {
	tier := slices.Index(ValidRoles, role)
	if tier < 0 {
		return nil
	}
	var perms []Permission
	for _, r := range ValidRoles[:tier+1] {
		perms = append(perms, grants[r]...)
	}
	return perms
}

// HasPermission reports whether role may exercise perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(PermissionsForRole(role), perm)
}
