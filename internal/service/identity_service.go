package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"codepods/internal/metrics"
	"codepods/internal/model"
	"codepods/pkg/apierror"
)

const minPasswordLength = 6

// UserStore is the persistence the identity service needs. It is satisfied
// by repository.UserRepository and repository.MemoryUserRepository.
type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByGitHubID(ctx context.Context, githubID int64) (model.User, error)
	Create(ctx context.Context, u model.User) error
	UpdateGitHub(ctx context.Context, u model.User) error
}

type IdentityService struct {
	users      UserStore
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	metrics    *metrics.Metrics
	now        func() time.Time
}

type IdentityOption func(*IdentityService)

func WithBcryptCost(cost int) IdentityOption {
	return func(s *IdentityService) {
		s.bcryptCost = cost
	}
}

func WithIdentityMetrics(m *metrics.Metrics) IdentityOption {
	return func(s *IdentityService) {
		s.metrics = m
	}
}

func NewIdentityService(users UserStore, jwtSecret string, tokenTTL time.Duration, opts ...IdentityOption) *IdentityService {
	s := &IdentityService{
		users:      users,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   tokenTTL,
		bcryptCost: 12,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IdentityService) Signup(ctx context.Context, req model.SignupRequest) (model.AuthResponse, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if name == "" {
		return model.AuthResponse{}, apierror.New("VALIDATION_ERROR", "Name is required", "", http.StatusBadRequest)
	}
	if err := validateEmail(email); err != nil {
		return model.AuthResponse{}, err
	}
	if len(req.Password) < minPasswordLength {
		return model.AuthResponse{}, apierror.New("VALIDATION_ERROR",
			fmt.Sprintf("Password must be at least %d characters", minPasswordLength), "", http.StatusBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := model.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		s.metrics.RecordAuth("signup", false)
		if errors.Is(err, model.ErrUserAlreadyExists) {
			return model.AuthResponse{}, apierror.Wrap(err, "ALREADY_EXISTS", "User already exists", "", http.StatusConflict)
		}
		return model.AuthResponse{}, err
	}

	s.metrics.RecordAuth("signup", true)
	return s.issue(user)
}

func (s *IdentityService) Login(ctx context.Context, email string, password string) (model.AuthResponse, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.AuthResponse{}, apierror.New("VALIDATION_ERROR", "Email and password are required", "", http.StatusBadRequest)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		s.metrics.RecordAuth("password", false)
		return model.AuthResponse{}, invalidCredentials()
	}
	if err != nil {
		return model.AuthResponse{}, err
	}

	// GitHub-only accounts have no password hash and can never match.
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.metrics.RecordAuth("password", false)
		return model.AuthResponse{}, invalidCredentials()
	}

	s.metrics.RecordAuth("password", true)
	return s.issue(user)
}

// LoginWithGitHub resolves profile to a local user: an account already
// linked to the GitHub id, else one with the same email (which gets linked),
// else a new account.
func (s *IdentityService) LoginWithGitHub(ctx context.Context, profile model.GitHubProfile) (model.AuthResponse, error) {
	user, err := s.users.FindByGitHubID(ctx, profile.ID)
	switch {
	case err == nil:
		return s.refreshGitHub(ctx, user, profile)
	case !errors.Is(err, model.ErrUserNotFound):
		return model.AuthResponse{}, err
	}

	if profile.Email != "" {
		user, err = s.users.FindByEmail(ctx, profile.Email)
		switch {
		case err == nil:
			return s.refreshGitHub(ctx, user, profile)
		case !errors.Is(err, model.ErrUserNotFound):
			return model.AuthResponse{}, err
		}
	}

	now := s.now()
	id := profile.ID
	name := profile.Name
	if name == "" {
		name = profile.Login
	}
	email := strings.ToLower(profile.Email)
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", profile.ID, profile.Login)
	}

	user = model.User{
		ID:          uuid.NewString(),
		Name:        name,
		Email:       email,
		GitHubID:    &id,
		GitHubLogin: profile.Login,
		AvatarURL:   profile.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		s.metrics.RecordAuth("github", false)
		return model.AuthResponse{}, err
	}

	s.metrics.RecordAuth("github", true)
	return s.issue(user)
}

func (s *IdentityService) refreshGitHub(ctx context.Context, user model.User, profile model.GitHubProfile) (model.AuthResponse, error) {
	id := profile.ID
	user.GitHubID = &id
	user.GitHubLogin = profile.Login
	if profile.AvatarURL != "" {
		user.AvatarURL = profile.AvatarURL
	}
	user.UpdatedAt = s.now()

	if err := s.users.UpdateGitHub(ctx, user); err != nil {
		s.metrics.RecordAuth("github", false)
		return model.AuthResponse{}, err
	}

	s.metrics.RecordAuth("github", true)
	return s.issue(user)
}

func (s *IdentityService) GetUser(ctx context.Context, id string) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.PublicUser{}, apierror.Wrap(err, "NOT_FOUND", "User not found", id, http.StatusNotFound)
	}
	if err != nil {
		return model.PublicUser{}, err
	}
	return user.Public(), nil
}

// ValidateToken verifies an HS256 token issued by this service.
func (s *IdentityService) ValidateToken(tokenString string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, apierror.Unauthorized("Invalid or expired token")
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.Unauthorized("Invalid token claims")
	}

	claims := &model.AuthClaims{}
	claims.UserID, _ = claimsMap["id"].(string)
	claims.Email, _ = claimsMap["email"].(string)
	claims.Name, _ = claimsMap["name"].(string)
	claims.Login, _ = claimsMap["login"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" {
		return nil, apierror.Unauthorized("Invalid token subject")
	}

	return claims, nil
}

// issue signs a token carrying the public profile so clients that only
// receive the token can still show who is signed in.
func (s *IdentityService) issue(user model.User) (model.AuthResponse, error) {
	now := s.now()
	public := user.Public()

	claims := jwt.MapClaims{
		"id":    public.ID,
		"sub":   public.ID,
		"email": public.Email,
		"name":  public.Name,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	if public.GitHubLogin != "" {
		claims["login"] = public.GitHubLogin
	}
	if public.AvatarURL != "" {
		claims["avatarUrl"] = public.AvatarURL
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("sign token: %w", err)
	}

	return model.AuthResponse{Token: token, User: public}, nil
}

func validateEmail(email string) error {
	if email == "" {
		return apierror.New("VALIDATION_ERROR", "Email is required", "", http.StatusBadRequest)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apierror.New("VALIDATION_ERROR", "Email is invalid", email, http.StatusBadRequest)
	}
	return nil
}

func invalidCredentials() error {
	return apierror.Wrap(model.ErrInvalidCredentials, "UNAUTHORIZED", "Invalid credentials", "", http.StatusUnauthorized)
}
