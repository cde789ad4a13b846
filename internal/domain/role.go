package domain

// Role constants define the allowed account roles. Each role maps to its own
// partition (collection) in the document store.
const (
	RolePatient   = "patient"
	RoleClinician = "clinician"
	RoleAdmin     = "admin"
)

// ValidRoles returns the set of valid account roles in partition scan order.
func ValidRoles() []string {
	return []string{RolePatient, RoleClinician, RoleAdmin}
}

// IsValidRole checks whether the given role string is a valid account role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// PartitionForRole returns the collection name backing the given role.
func PartitionForRole(role string) string {
	switch role {
	case RolePatient:
		return "patients"
	case RoleClinician:
		return "clinicians"
	case RoleAdmin:
		return "admins"
	default:
		return ""
	}
}
