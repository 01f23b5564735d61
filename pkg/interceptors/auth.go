package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims are the access-token claims issued by the auth backend. The user
// id is the standard subject; older tokens carry it in "uid".
type Claims struct {
	UserID string `json:"uid,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthInterceptor validates HS256 bearer tokens and stores the caller on
// the context. Public procedures skip the check.
type AuthInterceptor struct {
	secret []byte
	public map[string]struct{}
}

// NewAuthInterceptor creates an auth interceptor.
func NewAuthInterceptor(secret []byte, publicProcedures ...string) *AuthInterceptor {
	public := make(map[string]struct{}, len(publicProcedures))
	for _, p := range publicProcedures {
		public[p] = struct{}{}
	}
	return &AuthInterceptor{secret: secret, public: public}
}

// WrapUnary implements connect.Interceptor.
func (i *AuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if _, ok := i.public[req.Spec().Procedure]; ok {
			return next(ctx, req)
		}
		ctx, err := i.authenticate(ctx, req.Header().Get("Authorization"))
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *AuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *AuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if _, ok := i.public[conn.Spec().Procedure]; ok {
			return next(ctx, conn)
		}
		ctx, err := i.authenticate(ctx, conn.RequestHeader().Get("Authorization"))
		if err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *AuthInterceptor) authenticate(ctx context.Context, header string) (context.Context, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return ctx, connect.NewError(connect.CodeUnauthenticated, ErrMissingToken)
	}
	claims, err := i.ParseToken(strings.TrimSpace(raw))
	if err != nil {
		return ctx, connect.NewError(connect.CodeUnauthenticated, err)
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return ctx, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("%w: no subject", ErrInvalidToken))
	}

	ctx = WithUserID(ctx, userID)
	if claims.Email != "" {
		ctx = context.WithValue(ctx, emailKey, claims.Email)
	}
	return ctx, nil
}

// ParseToken validates a signed token and returns its claims.
func (i *AuthInterceptor) ParseToken(token string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
