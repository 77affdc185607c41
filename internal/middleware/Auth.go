package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Evergreen.telemetry/internal/directory"
	"Evergreen.telemetry/internal/models"
	"Evergreen.telemetry/internal/utils"
	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/rs/zerolog"
)

// UsernameHeader carries the caller's username when no JWT secret is configured.
const UsernameHeader = "X-Username"

// JWTConfig enables bearer token identities. An empty Secret selects header mode.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type userKey struct{}

// WithUser returns a copy of ctx carrying the resolved user.
func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user attached by the identity middleware.
func UserFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey{}).(models.User)
	return u, ok
}

// Identity resolves the calling dashboard user against the directory.
type Identity struct {
	dir    *directory.Directory
	jwt    *jwtmiddleware.JWTMiddleware
	logger zerolog.Logger
}

func NewIdentity(dir *directory.Directory, cfg JWTConfig, logger zerolog.Logger) (*Identity, error) {
	id := &Identity{
		dir:    dir,
		logger: logger.With().Str("component", "identity").Logger(),
	}
	if cfg.Secret == "" {
		return id, nil
	}

	keyFunc := func(ctx context.Context) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}
	jwtValidator, err := validator.New(
		keyFunc,
		validator.HS256,
		cfg.Issuer,
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("set up jwt validator: %w", err)
	}
	id.jwt = jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(id.tokenError),
	)
	return id, nil
}

func (i *Identity) tokenError(w http.ResponseWriter, r *http.Request, err error) {
	i.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
	utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeUnauthorized, "missing or invalid bearer token", nil, http.StatusUnauthorized))
}

// Middleware attaches the caller to the request context or answers 401.
func (i *Identity) Middleware(next http.Handler) http.Handler {
	if i.jwt == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			i.serveAs(w, r, strings.TrimSpace(r.Header.Get(UsernameHeader)), next)
		})
	}

	return i.jwt.CheckJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
		if !ok {
			i.tokenError(w, r, fmt.Errorf("no validated claims"))
			return
		}
		i.serveAs(w, r, claims.RegisteredClaims.Subject, next)
	}))
}

func (i *Identity) serveAs(w http.ResponseWriter, r *http.Request, username string, next http.Handler) {
	if username == "" {
		utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeUnauthorized, "no caller identity", nil, http.StatusUnauthorized))
		return
	}
	u, ok := i.dir.UserByUsername(username)
	if !ok {
		i.logger.Info().Str("username", username).Msg("unknown user")
		utils.RespondWithServiceError(w, fmt.Errorf("%w: %q", models.ErrUnknownUser, username))
		return
	}
	next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
}
