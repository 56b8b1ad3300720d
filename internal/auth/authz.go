package auth

import (
	"slices"

	"github.com/poltrona/poltrona/internal/models"
)

// Permission is a screen or capability key consulted by the UI composition layer.
// The evaluator has no knowledge of what each key unlocks.
type Permission string

const (
	PermDashboard     Permission = "dashboard"
	PermCalendar      Permission = "calendar"
	PermAppointments  Permission = "appointments"
	PermClients       Permission = "clients"
	PermServices      Permission = "services"
	PermProducts      Permission = "products"
	PermStaff         Permission = "staff"
	PermChat          Permission = "chat"
	PermNotifications Permission = "notifications"
	PermSettings      Permission = "settings"
	PermBilling       Permission = "billing"
	PermShopSetup     Permission = "shop_setup"
	PermClientBooking Permission = "client_booking"
	PermClientProfile Permission = "client_profile"
	PermPlatformAdmin Permission = "platform_admin"
)

// Permissions lists every known permission key.
var Permissions = []Permission{
	PermDashboard,
	PermCalendar,
	PermAppointments,
	PermClients,
	PermServices,
	PermProducts,
	PermStaff,
	PermChat,
	PermNotifications,
	PermSettings,
	PermBilling,
	PermShopSetup,
	PermClientBooking,
	PermClientProfile,
	PermPlatformAdmin,
}

// RolePermissions maps every role to its granted permissions. PermPlatformAdmin
// is intentionally absent: only the platform-admin flag grants it.
var RolePermissions = map[models.Role][]Permission{
	models.RoleAdmin: {
		PermDashboard,
		PermCalendar,
		PermAppointments,
		PermClients,
		PermServices,
		PermProducts,
		PermStaff,
		PermChat,
		PermNotifications,
		PermSettings,
		PermBilling,
		PermShopSetup,
	},
	models.RoleBarber: {
		PermDashboard,
		PermCalendar,
		PermAppointments,
		PermClients,
		PermServices,
		PermProducts,
		PermChat,
		PermNotifications,
	},
	models.RoleClient: {
		PermClientBooking,
		PermClientProfile,
		PermChat,
		PermNotifications,
	},
}

// HasPermission checks the role table only.
func HasPermission(role models.Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	return slices.Contains(perms, perm)
}

// Can evaluates a permission for an identity. Platform admins are granted
// every permission regardless of role.
func Can(role models.Role, isPlatformAdmin bool, perm Permission) bool {
	if isPlatformAdmin {
		return true
	}
	return HasPermission(role, perm)
}

// UserCan is Can applied to a session user. A nil user has no permissions.
func UserCan(u *models.User, perm Permission) bool {
	if u == nil {
		return false
	}
	return Can(u.Role, u.IsPlatformAdmin, perm)
}

// PermissionsFor returns the effective permissions of an identity.
func PermissionsFor(role models.Role, isPlatformAdmin bool) []Permission {
	result := make([]Permission, 0, len(Permissions))
	for _, p := range Permissions {
		if Can(role, isPlatformAdmin, p) {
			result = append(result, p)
		}
	}
	return result
}
