package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/store"
)

const tokenIssuer = "dapurpos"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// roles are the roles a token may carry. requireAuth narrows them per route.
var roles = []string{domain.RoleAdmin, domain.RoleStaff}

// missingUserHash is compared against when a username is unknown so that a
// failed lookup costs the same as a wrong password.
var missingUserHash, _ = bcrypt.GenerateFromPassword([]byte("dapurpos-missing-user"), bcrypt.DefaultCost)

// UserDirectory is the slice of the repository that holds login accounts.
type UserDirectory interface {
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// Authenticator checks passwords against the user directory and issues the
// bearer tokens that carry the caller's role to the service layer. Nothing is
// cached: a deactivated account cannot log in again on any instance.
type Authenticator struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserDirectory
	parser   *jwtlib.Parser
	now      func() time.Time
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthenticator(secret string, tokenTTL time.Duration, users UserDirectory) *Authenticator {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Authenticator{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		parser: jwtlib.NewParser(
			jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
			jwtlib.WithIssuer(tokenIssuer),
			jwtlib.WithExpirationRequired(),
			jwtlib.WithIssuedAt(),
		),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (a *Authenticator) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	user, err := a.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(missingUserHash, []byte(req.Password))
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("load user %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}
	if !slices.Contains(roles, user.Role) {
		return domain.LoginResponse{}, fmt.Errorf("user %s has unknown role %q", username, user.Role)
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user.Username, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken returns the actor a token was issued to. Tokens naming a role
// outside the known set are refused even when the signature is valid.
func (a *Authenticator) ParseToken(raw string) (domain.Actor, error) {
	var claims actorClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" || !slices.Contains(roles, claims.Role) {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *Authenticator) sign(username, role string, expiresAt time.Time) (string, error) {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	})
	return token.SignedString(a.secret)
}

// CreateStaff adds a staff login. Uniqueness is the store's call.
func (a *Authenticator) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.StaffUser{}, domain.NewValidationError("username", username, "must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.StaffUser{}, domain.NewValidationError("username", username, "must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < 6:
		return domain.StaffUser{}, domain.NewValidationError("password", username, "must be at least 6 characters")
	}

	user, err := a.newAccount(username, req.Password, domain.RoleStaff)
	if err != nil {
		return domain.StaffUser{}, err
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return domain.StaffUser{}, fmt.Errorf("username %s: %w", username, err)
	}
	return staffView(user), nil
}

func (a *Authenticator) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	staff := make([]domain.StaffUser, 0, len(users))
	for _, user := range users {
		if user.Role == domain.RoleStaff {
			staff = append(staff, staffView(user))
		}
	}
	slices.SortFunc(staff, func(x, y domain.StaffUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return staff, nil
}

// EnsureAdmin creates the first admin account when the directory has no
// active admin. It reports whether an account was created.
func (a *Authenticator) EnsureAdmin(ctx context.Context, username string, password string) (bool, error) {
	users, err := a.users.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	for _, user := range users {
		if user.Role == domain.RoleAdmin && user.Active {
			return false, nil
		}
	}
	username = normalizeUsername(username)
	if username == "" || len(password) < 8 {
		return false, domain.NewValidationError("password", username, "bootstrap admin needs a username and a password of at least 8 characters")
	}
	user, err := a.newAccount(username, password, domain.RoleAdmin)
	if err != nil {
		return false, err
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return false, fmt.Errorf("create bootstrap admin %s: %w", username, err)
	}
	return true, nil
}

func (a *Authenticator) newAccount(username, password, role string) (domain.UserAccount, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	return domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: a.now(),
	}, nil
}

func staffView(user domain.UserAccount) domain.StaffUser {
	return domain.StaffUser{
		Username:  user.Username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}
