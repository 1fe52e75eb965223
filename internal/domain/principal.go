package domain

// Role — роль аутентифицированного пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal — аутентифицированный участник, которого предоставляет identity provider.
// nil *Principal означает неаутентифицированный запрос.
type Principal struct {
	ID   string
	Role Role
	Name string
}

// IsAdmin сообщает, что principal является администратором.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
