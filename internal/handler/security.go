package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Claims is the JWT payload issued to API callers. The subject carries the
// user id; user_id is accepted for tokens minted by older clients.
type Claims struct {
	UserID string    `json:"user_id,omitempty"`
	Role   auth.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) userID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// AuthError is a rejected bearer credential.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

var (
	errNoAuthHeader      = &AuthError{http.StatusUnauthorized, "NO_AUTH_HEADER", "Authorization header is required"}
	errInvalidAuthFormat = &AuthError{http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be Bearer token"}
	errNoToken           = &AuthError{http.StatusUnauthorized, "NO_TOKEN", "No token provided"}
	errTokenExpired      = &AuthError{http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired"}
	errInvalidToken      = &AuthError{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token"}
	errUserNotFound      = &AuthError{http.StatusUnauthorized, "USER_NOT_FOUND", "User not found"}
	errAccountSuspended  = &AuthError{http.StatusForbidden, "ACCOUNT_SUSPENDED", "Account is suspended"}
)

// UserLookup resolves the stored account behind a token subject.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Authenticator verifies HS256 bearer tokens and turns them into a
// principal. When a UserLookup is set, the stored account decides the role
// and whether the caller may act at all.
type Authenticator struct {
	secret []byte
	issuer string
	users  UserLookup
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. users may be nil, in which case
// the role claim is trusted as is.
func NewAuthenticator(secret []byte, issuer string, users UserLookup) *Authenticator {
	return &Authenticator{
		secret: secret,
		issuer: issuer,
		users:  users,
		now:    time.Now,
	}
}

// Issue mints a token for userID valid for ttl.
func (a *Authenticator) Issue(userID string, role auth.Role, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errInvalidAuthFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

// Authenticate resolves the principal behind an Authorization header value.
// Credential failures are returned as *AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (auth.Principal, error) {
	raw, err := bearerToken(header)
	if err != nil {
		return auth.Principal{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.Principal{}, errTokenExpired
	case err != nil:
		return auth.Principal{}, errInvalidToken
	}

	p := auth.Principal{UserID: claims.userID(), Role: claims.Role}
	if p.UserID == "" {
		return auth.Principal{}, errInvalidToken
	}
	if a.users == nil {
		if !p.Role.Valid() {
			p.Role = auth.RoleUser
		}
		return p, nil
	}

	u, err := a.users.GetByID(ctx, p.UserID)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return auth.Principal{}, errUserNotFound
	case err != nil:
		return auth.Principal{}, errors.Wrap(err, "load user")
	}
	if u.Status != user.StatusActive {
		return auth.Principal{}, errAccountSuspended
	}
	p.Role = u.Role
	return p, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				writeError(w, authErr.Status, authErr.Code, authErr.Message, nil)
				return
			}
			zctx.From(r.Context()).Error("Authenticate", zap.Error(err))
			writeError(w, http.StatusInternalServerError, codeInternal, "Internal server error", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, _ := auth.FromContext(r.Context()); !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
