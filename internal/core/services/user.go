package services

import (
	"context"
	"strings"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driving"
)

// Ensure userService implements UserService
var _ driving.UserService = (*userService)(nil)

// userService implements the UserService interface
type userService struct {
	userStore    driven.UserStore
	sessionStore driven.SessionStore
	authAdapter  driven.AuthAdapter
}

// NewUserService creates a new UserService
func NewUserService(
	userStore driven.UserStore,
	sessionStore driven.SessionStore,
	authAdapter driven.AuthAdapter,
) driving.UserService {
	return &userService{
		userStore:    userStore,
		sessionStore: sessionStore,
		authAdapter:  authAdapter,
	}
}

// Setup creates the initial admin user (only works if no users exist)
func (s *userService) Setup(ctx context.Context, req driving.SetupRequest) (*driving.SetupResponse, error) {
	// Validate input
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, domain.ErrInvalidInput
	}

	// Check if any users exist
	users, err := s.userStore.List(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(users) > 0 {
		return nil, domain.ErrForbidden
	}

	// Create the admin user
	user, err := s.Create(ctx, driving.CreateUserRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return nil, err
	}

	return &driving.SetupResponse{
		User:    user,
		Message: "Setup complete. You can now log in.",
	}, nil
}

// Create creates a new user (admin only)
func (s *userService) Create(ctx context.Context, req driving.CreateUserRequest) (*domain.User, error) {
	// Validate input
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	// Check if email already exists
	existing, _ := s.userStore.GetByEmail(ctx, req.Email)
	if existing != nil {
		return nil, domain.ErrAlreadyExists
	}

	// Hash password
	passwordHash, err := s.authAdapter.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	language := req.LanguageCode
	if language == "" {
		language = "en"
	}

	now := time.Now()
	user := &domain.User{
		ID:            generateID(),
		Email:         strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:  passwordHash,
		Name:          strings.TrimSpace(req.Name),
		Phone:         strings.TrimSpace(req.Phone),
		Role:          req.Role,
		CooperativeID: req.CooperativeID,
		CountryCode:   strings.ToUpper(req.CountryCode),
		LanguageCode:  language,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.userStore.Save(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Get retrieves a user by ID
func (s *userService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.userStore.Get(ctx, id)
}

// GetByEmail retrieves a user by email
func (s *userService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.userStore.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// List retrieves users, scoped to a cooperative unless empty
func (s *userService) List(ctx context.Context, cooperativeID string) ([]*domain.User, error) {
	return s.userStore.List(ctx, cooperativeID)
}

// Update updates a user (admin only)
func (s *userService) Update(ctx context.Context, id string, req driving.UpdateUserRequest) (*domain.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Apply updates
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, domain.ErrInvalidInput
		}
		user.Role = *req.Role
	}
	if req.LanguageCode != nil {
		if !domain.LanguageSupported(*req.LanguageCode) {
			return nil, domain.ErrInvalidInput
		}
		user.LanguageCode = *req.LanguageCode
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	user.UpdatedAt = time.Now()

	if err := s.userStore.Save(ctx, user); err != nil {
		return nil, err
	}

	// If user was deactivated, invalidate their sessions
	if req.Active != nil && !*req.Active {
		_ = s.sessionStore.DeleteByUser(ctx, id)
	}

	return user, nil
}

// Delete deletes a user (admin only)
func (s *userService) Delete(ctx context.Context, id string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	// Invalidate all sessions first
	_ = s.sessionStore.DeleteByUser(ctx, user.ID)

	return s.userStore.Delete(ctx, id)
}

// SetPassword sets a new password for a user (admin only)
func (s *userService) SetPassword(ctx context.Context, id string, password string) error {
	if password == "" {
		return domain.ErrInvalidInput
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	passwordHash, err := s.authAdapter.HashPassword(password)
	if err != nil {
		return err
	}

	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now()

	if err := s.userStore.Save(ctx, user); err != nil {
		return err
	}

	// Invalidate all sessions (force re-login)
	return s.sessionStore.DeleteByUser(ctx, id)
}

// validateCreateRequest validates the create user request
func (s *userService) validateCreateRequest(req driving.CreateUserRequest) error {
	if req.Email == "" {
		return domain.ErrInvalidInput
	}
	if req.Password == "" {
		return domain.ErrInvalidInput
	}
	if req.Name == "" {
		return domain.ErrInvalidInput
	}
	if !req.Role.Valid() {
		return domain.ErrInvalidInput
	}
	if req.LanguageCode != "" && !domain.LanguageSupported(req.LanguageCode) {
		return domain.ErrInvalidInput
	}
	return nil
}
