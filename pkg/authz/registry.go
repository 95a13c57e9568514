package authz

const (
	RoleTenantAdmin = "tenant-admin"
	RoleOperator    = "catalog-operator"
	RoleViewer      = "viewer"
	RoleAnonymous   = "anonymous"
)

const (
	ActionRead    = "read"
	ActionDetect  = "detect"
	ActionResolve = "resolve"
	ActionIgnore  = "ignore"
	ActionExport  = "export"
)

const ObjectConflicts = "conflicts.conflicts"
