package rbac

// Permission names seeded by the schema migrations.
const (
	PermUsersRead         = "users.read"
	PermUsersManage       = "users.manage"
	PermUsersManageAll    = "users.manage_all"
	PermSubusersRead      = "subusers.read"
	PermSubusersManage    = "subusers.manage"
	PermSubusersManageAll = "subusers.manage_all"
	PermMachinesRead      = "machines.read"
	PermMachinesManage    = "machines.manage"
	PermReportsRead       = "reports.read"
	PermReportsManage     = "reports.manage"
	PermReportsExport     = "reports.export"
	PermLicensesRead      = "licenses.read"
	PermLicensesManage    = "licenses.manage"
	PermRolesManage       = "roles.manage"
	PermSystemMonitor     = "system.monitor"
)

// platformPermissions act on data outside a single customer's database.
// Tenant databases cannot grant them.
var platformPermissions = map[string]bool{
	PermUsersManageAll:    true,
	PermSubusersManageAll: true,
	PermLicensesManage:    true,
	PermRolesManage:       true,
	PermSystemMonitor:     true,
}

// PlatformScoped reports whether perm can only be granted by the main database.
func PlatformScoped(perm string) bool {
	return platformPermissions[perm]
}
