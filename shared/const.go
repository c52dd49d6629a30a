package shared

const (
	UserID    = "user_id"
	Privilege = "privilege"

	PrivilegeUser  = "user"
	PrivilegeAdmin = "admin"
	PrivilegeBoss  = "boss"
)
