package channel

// PermissionSet is a bitmask of the permissions a session holds.
// PermAdministrator overrides all other bits.
type PermissionSet uint64

// Permission bits.
const (
	PermConnect        PermissionSet = 1 << 0 // Can connect to the server
	PermSpeak          PermissionSet = 1 << 1 // Can send audio
	PermListen         PermissionSet = 1 << 2 // Can subscribe to channels
	PermMoveUsers      PermissionSet = 1 << 3 // Can move users between channels
	PermMuteUsers      PermissionSet = 1 << 4 // Can mute users
	PermKickUsers      PermissionSet = 1 << 5 // Can kick users from the server
	PermBanUsers       PermissionSet = 1 << 6 // Can ban users
	PermManageChannels PermissionSet = 1 << 7 // Can create, delete, or modify channels
	PermManageRoles    PermissionSet = 1 << 8 // Can create, delete, or modify roles
	PermAdministrator  PermissionSet = 1 << 63
)

// permissionNames maps configuration names to bits.
var permissionNames = map[string]PermissionSet{
	"connect":         PermConnect,
	"speak":           PermSpeak,
	"listen":          PermListen,
	"move_users":      PermMoveUsers,
	"mute_users":      PermMuteUsers,
	"kick_users":      PermKickUsers,
	"ban_users":       PermBanUsers,
	"manage_channels": PermManageChannels,
	"manage_roles":    PermManageRoles,
	"administrator":   PermAdministrator,
}

// ParsePermission resolves a permission name (as used in configuration) to
// its bit.
//
// Parameters:
//   - name: The snake_case permission name
//
// Returns:
//   - The permission bit and true if the name is known, 0 and false otherwise
func ParsePermission(name string) (PermissionSet, bool) {
	p, ok := permissionNames[name]
	return p, ok
}

// Add sets the given permission bits.
func (p *PermissionSet) Add(perm PermissionSet) {
	*p |= perm
}

// Remove clears the given permission bits.
func (p *PermissionSet) Remove(perm PermissionSet) {
	*p &^= perm
}

// Has reports whether the set grants the given permission. The
// administrator bit grants everything.
//
// Parameters:
//   - perm: The permission bit to test
//
// Returns:
//   - true if any of the tested bits are set or the set holds
//     PermAdministrator
func (p PermissionSet) Has(perm PermissionSet) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&perm != 0
}

// HasAll reports whether every listed permission is granted.
func (p PermissionSet) HasAll(perms ...PermissionSet) bool {
	for _, perm := range perms {
		if !p.Has(perm) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one listed permission is granted.
func (p PermissionSet) HasAny(perms ...PermissionSet) bool {
	for _, perm := range perms {
		if p.Has(perm) {
			return true
		}
	}
	return false
}
