package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"trade_desk/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Hasher is the one-way credential hashing primitive.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) error
}

// BcryptHasher hashes with bcrypt at the given cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h BcryptHasher) Compare(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// Claims carried by issued tokens. Subject is the account id.
type Claims struct {
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Options configures a Verifier.
type Options struct {
	Secret           string
	TTL              time.Duration
	OperatorUsername string
	OperatorSecret   string
	Hasher           Hasher
}

// Verifier validates credentials and issues signed, time-bound tokens.
type Verifier struct {
	accounts domain.AccountRepository
	hasher   Hasher
	key      []byte
	ttl      time.Duration

	operatorUsername string
	operatorSecret   string

	now func() time.Time
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// NewVerifier creates a verifier. An empty secret yields a random
// process-wide key, so tokens do not survive a restart.
func NewVerifier(accounts domain.AccountRepository, opts Options) (*Verifier, error) {
	key := []byte(opts.Secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		slog.Warn("No JWT secret configured, using a random key")
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{
		accounts:         accounts,
		hasher:           hasher,
		key:              key,
		ttl:              ttl,
		operatorUsername: opts.OperatorUsername,
		operatorSecret:   opts.OperatorSecret,
		now:              time.Now,
	}, nil
}

// OperatorUsername is the reserved login name of the operator identity.
func (v *Verifier) OperatorUsername() string {
	return v.operatorUsername
}

// Register creates a user account and returns its principal and token.
func (v *Verifier) Register(ctx context.Context, username, password string) (domain.Principal, string, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return domain.Principal{}, "", fmt.Errorf("%w: username must be 3-32 letters, digits, '_', '.' or '-'", domain.ErrInvalidInput)
	}
	if strings.EqualFold(username, v.operatorUsername) || strings.EqualFold(username, domain.FromSystem) || strings.EqualFold(username, domain.FromOperator) {
		return domain.Principal{}, "", domain.ErrUsernameTaken
	}
	if password == "" || len(password) > 72 {
		return domain.Principal{}, "", fmt.Errorf("%w: password must be 1-72 bytes", domain.ErrInvalidInput)
	}

	hash, err := v.hasher.Hash(password)
	if err != nil {
		return domain.Principal{}, "", fmt.Errorf("hash password: %w", err)
	}
	acct := &domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := v.accounts.CreateAccount(ctx, acct); err != nil {
		return domain.Principal{}, "", domain.NewStoreError("create_account", err)
	}

	p := domain.Principal{ID: acct.ID, Username: acct.Username, Role: domain.RoleUser}
	token, err := v.Issue(p)
	if err != nil {
		return domain.Principal{}, "", err
	}
	slog.Info("Account registered", slog.String("account", acct.ID), slog.String("username", username))
	return p, token, nil
}

// Login checks username and secret. The reserved operator name is checked
// against the shared operator secret and never reaches the account store.
func (v *Verifier) Login(ctx context.Context, username, password string) (domain.Principal, string, error) {
	if username == v.operatorUsername {
		if v.operatorSecret == "" || subtle.ConstantTimeCompare([]byte(password), []byte(v.operatorSecret)) != 1 {
			return domain.Principal{}, "", domain.ErrInvalidCredentials
		}
		p := domain.Principal{ID: domain.OperatorID, Username: v.operatorUsername, Role: domain.RoleOperator}
		token, err := v.Issue(p)
		return p, token, err
	}

	acct, err := v.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return domain.Principal{}, "", domain.NewStoreError("load_account", err)
	}
	if acct.Banned {
		return domain.Principal{}, "", domain.ErrBanned
	}
	if err := v.hasher.Compare(acct.PasswordHash, password); err != nil {
		return domain.Principal{}, "", domain.ErrInvalidCredentials
	}

	p := domain.Principal{ID: acct.ID, Username: acct.Username, Role: acct.Role}
	token, err := v.Issue(p)
	return p, token, err
}

// Issue signs a token for p.
func (v *Verifier) Issue(p domain.Principal) (string, error) {
	now := v.now()
	claims := Claims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature and expiry, then re-reads the banned flag of user
// accounts so a valid signature alone never admits a banned account.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.key, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	p := domain.Principal{ID: claims.Subject, Username: claims.Username, Role: claims.Role}
	switch p.Role {
	case domain.RoleOperator:
		if p.ID != domain.OperatorID {
			return domain.Principal{}, domain.ErrUnauthenticated
		}
		return p, nil
	case domain.RoleUser:
	default:
		return domain.Principal{}, domain.ErrUnauthenticated
	}

	acct, err := v.accounts.GetAccount(ctx, p.ID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, domain.NewStoreError("load_account", err)
	}
	if acct.Banned {
		return domain.Principal{}, domain.ErrBanned
	}
	p.Username = acct.Username
	return p, nil
}

// FromHeader extracts the bearer token of an Authorization header value.
func FromHeader(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", domain.ErrUnauthenticated
	}
	return strings.TrimSpace(parts[1]), nil
}
