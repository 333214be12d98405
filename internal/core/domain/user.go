package domain

import "time"

// Role defines user permission level
type Role string

const (
	RoleAdmin  Role = "admin"  // Manage users, schemas, settings
	RoleAgent  Role = "agent"  // Extension agent: view cooperative records, resolve conflicts
	RoleFarmer Role = "farmer" // Own records only
)

// Valid reports whether the role is one of the defined roles
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAgent || r == RoleFarmer
}

// SupportedLanguages are the language codes accepted for user profiles
var SupportedLanguages = []string{"en", "fr", "ar", "sw", "ha", "yo", "am", "zu"}

// LanguageSupported reports whether code is an accepted profile language
func LanguageSupported(code string) bool {
	for _, l := range SupportedLanguages {
		if l == code {
			return true
		}
	}
	return false
}

// User represents an account in a cooperative
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"` // Never serialize
	Name          string     `json:"name"`
	Phone         string     `json:"phone,omitempty"`
	Role          Role       `json:"role"`
	CooperativeID string     `json:"cooperative_id"`
	CountryCode   string     `json:"country_code,omitempty"`
	LanguageCode  string     `json:"language_code"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// Cooperative represents a farmer organization (the tenant boundary)
type Cooperative struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CountryCode string    `json:"country_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserSummary provides a safe view of user data (no password hash)
type UserSummary struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	CountryCode  string     `json:"country_code,omitempty"`
	LanguageCode string     `json:"language_code"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// ToSummary converts a User to UserSummary
func (u *User) ToSummary() *UserSummary {
	return &UserSummary{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		CountryCode:  u.CountryCode,
		LanguageCode: u.LanguageCode,
		Active:       u.Active,
		LastLoginAt:  u.LastLoginAt,
	}
}

// IsAdmin checks if the user has admin privileges
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanManageUsers checks if the user can create/delete other users
func (u *User) CanManageUsers() bool {
	return u.Role == RoleAdmin
}

// CanViewAllRecords checks if the user can read records owned by others
func (u *User) CanViewAllRecords() bool {
	return u.Role == RoleAdmin || u.Role == RoleAgent
}

// CanResolveConflicts checks if the user can resolve other users' conflicts
func (u *User) CanResolveConflicts() bool {
	return u.Role == RoleAdmin || u.Role == RoleAgent
}
