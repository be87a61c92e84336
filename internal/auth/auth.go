package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const SessionCookie = "session"

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

type Claims struct {
	jwt.RegisteredClaims

	// private claims
	UserId   uuid.UUID `json:"classifier/userId"`
	Username string    `json:"classifier/username"`
}

type Session struct {
	Token   string
	Expires time.Time
}

// Authenticator issues and verifies HS256 session tokens. Tokens are carried
// in the session cookie, or as a bearer token for non-browser clients.
type Authenticator struct {
	secret       []byte
	ttl          time.Duration
	secureCookie bool
	now          func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, secureCookie bool) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %v", ttl)
	}
	return &Authenticator{
		secret:       []byte(secret),
		ttl:          ttl,
		secureCookie: secureCookie,
		now:          time.Now,
	}, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (a *Authenticator) Issue(userId uuid.UUID, username string) (Session, error) {
	now := a.now()
	expires := now.Add(a.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userId.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserId:   userId,
		Username: username,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Session{}, fmt.Errorf("error signing session token: %w", err)
	}

	return Session{Token: token, Expires: expires}, nil
}

func (a *Authenticator) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		token, &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.UserId == uuid.Nil {
		return Claims{}, fmt.Errorf("%w: token has no user", ErrUnauthenticated)
	}
	return claims, nil
}

// SetSession writes the session cookie. SameSite=None lets a browser frontend
// on another origin send it along with credentialed requests.
func (a *Authenticator) SetSession(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.Expires,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteNoneMode,
	})
}

func (a *Authenticator) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteNoneMode,
	})
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

type claimsKey struct{}

// Middleware rejects requests without a valid session and makes the claims
// available to handlers through CurrentUser.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := a.Verify(token)
		if err != nil {
			slog.Info("rejected session token", "path", r.URL.Path, "error", err)
			http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func CurrentClaims(r *http.Request) (Claims, error) {
	claims, ok := r.Context().Value(claimsKey{}).(Claims)
	if !ok {
		return Claims{}, ErrUnauthenticated
	}
	return claims, nil
}

func CurrentUser(r *http.Request) (uuid.UUID, error) {
	claims, err := CurrentClaims(r)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserId, nil
}
