package domain

// Role is the authorization role carried by a session
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleOrganizer, RoleAdmin:
		return true
	}
	return false
}

// Session is the caller identity supplied by the auth boundary
type Session struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Authenticated reports whether the session identifies a user
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != "" && s.Role.IsValid()
}

// IsAdmin checks for the admin role
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// CanPublish reports whether the session may create events
func (s *Session) CanPublish() bool {
	return s.Authenticated() && (s.Role == RoleOrganizer || s.Role == RoleAdmin)
}

// CanManage reports whether the session may mutate an event owned by organizerID
func (s *Session) CanManage(organizerID string) bool {
	if !s.Authenticated() {
		return false
	}
	return s.Role == RoleAdmin || (s.Role == RoleOrganizer && s.UserID == organizerID)
}

// CanAccess reports whether the session may read a buyer-owned record
func (s *Session) CanAccess(ownerID string) bool {
	return s.Authenticated() && (s.Role == RoleAdmin || s.UserID == ownerID)
}
