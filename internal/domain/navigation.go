package domain

// Destination names the screen a client should show next.
type Destination string

const (
	DestinationSignIn         Destination = "sign-in"
	DestinationUserDashboard  Destination = "user-dashboard"
	DestinationAdminDashboard Destination = "admin-dashboard"
	DestinationCart           Destination = "cart"
)

// DashboardFor returns the landing screen for a role.
func DashboardFor(role Role) Destination {
	if role == RoleAdmin {
		return DestinationAdminDashboard
	}
	return DestinationUserDashboard
}
