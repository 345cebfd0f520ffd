package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/xid"
)

var ErrUnauthorized = errors.New("invalid or missing secret")

// AuthManager checks the shared ingest secret and issues admin tokens. The
// ingest secret is kept only as a bcrypt hash.
type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	ingestHash string
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, ingestSecret string) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}

	manager := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
	if ingestSecret = strings.TrimSpace(ingestSecret); ingestSecret != "" {
		if hashed, err := hashSecret(ingestSecret); err == nil {
			manager.ingestHash = hashed
		}
	}
	return manager
}

func (a *AuthManager) ValidateIngestSecret(secret string) bool {
	input := strings.TrimSpace(secret)
	if input == "" || !isSecretHash(a.ingestHash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.ingestHash), []byte(input)) == nil
}

// IssueToken signs a token for subject. ttl <= 0 uses the manager default.
func (a *AuthManager) IssueToken(subject, role string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = a.tokenTTL
	}
	expiresAt := time.Now().UTC().Add(ttl)
	token, err := a.sign(subject, role, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Subject: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(subject, role string, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "caisse",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func hashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isSecretHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
