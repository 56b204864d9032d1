package servicetoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationHeader  = "authorization"
	bearerPrefix         = "Bearer "
	defaultTokenTTL      = 5 * time.Minute
	errorUnauthenticated = "unauthenticated"
)

var (
	ErrInvalidConfig = errors.New("invalid service token config")
	ErrMissingToken  = errors.New("missing service token")
	ErrInvalidToken  = errors.New("invalid service token")
)

// Config holds the shared HMAC secret and issuer for service-to-service calls.
type Config struct {
	SigningKey []byte
	Issuer     string
	TTL        time.Duration
}

func (config Config) validate() error {
	if len(config.SigningKey) == 0 {
		return fmt.Errorf("%w: signing key is empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(config.Issuer) == "" {
		return fmt.Errorf("%w: issuer is empty", ErrInvalidConfig)
	}
	return nil
}

// Issuer mints short-lived HS256 tokens naming the calling service.
type Issuer struct {
	config  Config
	subject string
	nowFn   func() time.Time
}

// NewIssuer validates config and returns an Issuer for subject.
func NewIssuer(config Config, subject string, now func() time.Time) (*Issuer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: subject is empty", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}
	if config.TTL <= 0 {
		config.TTL = defaultTokenTTL
	}
	return &Issuer{config: config, subject: subject, nowFn: now}, nil
}

// Mint returns a signed token valid for the configured TTL.
func (issuer *Issuer) Mint() (string, error) {
	issuedAt := issuer.nowFn().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer.config.Issuer,
		Subject:   issuer.subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt.Add(-time.Second)),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(issuer.config.TTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.config.SigningKey)
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (issuer *Issuer) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	token, err := issuer.Mint()
	if err != nil {
		return nil, err
	}
	return map[string]string{authorizationHeader: bearerPrefix + token}, nil
}

// RequireTransportSecurity allows plaintext links inside a private network.
func (issuer *Issuer) RequireTransportSecurity() bool {
	return false
}

// Verifier validates tokens minted by an Issuer sharing the same config.
type Verifier struct {
	config Config
	nowFn  func() time.Time
}

// NewVerifier validates config and returns a Verifier.
func NewVerifier(config Config, now func() time.Time) (*Verifier, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{config: config, nowFn: now}, nil
}

// Verify parses the token and returns the calling service name.
func (verifier *Verifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (any, error) { return verifier.config.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(verifier.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(verifier.nowFn),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// UnaryServerInterceptor rejects calls without a valid bearer token.
func (verifier *Verifier) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token, err := bearerToken(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		caller, err := verifier.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		return handler(withCaller(ctx, caller), request)
	}
}

type callerContextKey struct{}

func withCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the verified calling service, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(string)
	return caller, ok && caller != ""
}

func bearerToken(ctx context.Context) (string, error) {
	incoming, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingToken
	}
	for _, value := range incoming.Get(authorizationHeader) {
		if strings.HasPrefix(value, bearerPrefix) {
			token := strings.TrimSpace(strings.TrimPrefix(value, bearerPrefix))
			if token != "" {
				return token, nil
			}
		}
	}
	return "", ErrMissingToken
}
