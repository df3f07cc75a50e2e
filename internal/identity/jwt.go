package identity

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// AccessClaims: access-токен identity provider'а: sub = user id, role = creator|brand|admin.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier проверяет access-токены и превращает их в domain.Actor.
type Verifier struct {
	alg      string
	key      any // []byte для HS256, *rsa.PublicKey для RS256
	issuer   string
	audience string
	leeway   time.Duration
}

func NewHMACVerifier(secret []byte, issuer, audience string, leeway time.Duration) *Verifier {
	return &Verifier{alg: AlgHS256, key: secret, issuer: issuer, audience: audience, leeway: leeway}
}

func NewRSAVerifier(pub *rsa.PublicKey, issuer, audience string, leeway time.Duration) *Verifier {
	return &Verifier{alg: AlgRS256, key: pub, issuer: issuer, audience: audience, leeway: leeway}
}

func (v *Verifier) Verify(_ context.Context, raw string) (domain.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.alg}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: empty subject", domain.ErrUnauthenticated)
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return domain.Actor{UserID: claims.Subject, Role: role}, nil
}

// Signer выпускает токены того же формата; сервису нужен только для dev-токенов и тестов.
type Signer struct {
	method   jwt.SigningMethod
	key      any
	issuer   string
	audience string
	ttl      time.Duration
}

func NewHMACSigner(secret []byte, issuer, audience string, ttl time.Duration) *Signer {
	return &Signer{method: jwt.SigningMethodHS256, key: secret, issuer: issuer, audience: audience, ttl: ttl}
}

func NewRSASigner(private *rsa.PrivateKey, issuer, audience string, ttl time.Duration) *Signer {
	return &Signer{method: jwt.SigningMethodRS256, key: private, issuer: issuer, audience: audience, ttl: ttl}
}

func (s *Signer) Sign(actor domain.Actor, now time.Time) (string, error) {
	claims := AccessClaims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

func LoadRSAPrivateKeyFromPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not RSA private key")
	}
	return pk, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}
