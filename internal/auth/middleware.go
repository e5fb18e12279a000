package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/logging"
)

const (
	// Context keys for request data
	ContextKeyPrincipal = "auth_principal"
	ContextKeyTenant    = "auth_tenant"
)

// RequestContext is the authenticated caller and the database serving it.
type RequestContext struct {
	Principal *Principal
	Tenant    *Resolution
}

// Store is the database ordinary data operations of this request go to.
func (rc *RequestContext) Store() database.Store {
	return rc.Tenant.Handle
}

// Main is the shared database holding quota counters.
func (rc *RequestContext) Main() database.Store {
	return rc.Tenant.Main
}

// abort writes err as the JSON error body and stops the chain.
func abort(c *gin.Context, err error) {
	status, code, message := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		logging.FromGin(c).Error().Err(err).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", apperr.Unauthenticated("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.Unauthenticated("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// Middleware validates the bearer token, optionally pins it to the client
// address, routes the principal to its tenant database and requires the
// principal to still be active.
func Middleware(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			abort(c, err)
			return
		}

		p, err := s.jwt.ValidateAccessToken(token)
		if err != nil {
			abort(c, err)
			return
		}

		if s.config.BindSourceIP && p.SourceIP != "" && p.SourceIP != c.ClientIP() {
			s.logger.Warn().
				Str("email", p.Email).
				Str("token_ip", p.SourceIP).
				Str("client_ip", c.ClientIP()).
				Msg("Token presented from another address")
			abort(c, ErrSourceIPMismatch)
			return
		}

		res, err := s.Resolve(c.Request.Context(), p)
		if err != nil {
			abort(c, err)
			return
		}
		if status := credentialOf(res).status; status != database.StatusActive {
			abort(c, apperr.Forbidden("account is %s", status).WithCode(CodeAccountInactive))
			return
		}

		l := logging.FromGin(c).With().Str("principal", p.Email).Str("tenant", TenantKey(res)).Logger()
		logging.Attach(c, &l)

		c.Set(ContextKeyPrincipal, p)
		c.Set(ContextKeyTenant, res)

		c.Next()
	}
}

// RequirePermission allows the request only when the caller holds every perm.
// It must run after Middleware.
func RequirePermission(s *Service, perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := GetRequestContext(c)
		if rc == nil {
			abort(c, ErrUnauthorized)
			return
		}
		if err := s.Authorize(c.Request.Context(), rc.Principal, rc.Tenant, perms...); err != nil {
			if apperr.IsKind(err, apperr.KindForbidden) {
				s.logger.Info().Str("email", rc.Principal.Email).Strs("required", perms).Msg("Permission denied")
			}
			abort(c, err)
			return
		}
		c.Next()
	}
}

// GetPrincipal extracts the authenticated principal from the Gin context
func GetPrincipal(c *gin.Context) *Principal {
	if v, exists := c.Get(ContextKeyPrincipal); exists {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// GetRequestContext returns the principal and its tenant routing, or nil
// when Middleware did not run.
func GetRequestContext(c *gin.Context) *RequestContext {
	p := GetPrincipal(c)
	if p == nil {
		return nil
	}
	v, exists := c.Get(ContextKeyTenant)
	if !exists {
		return nil
	}
	res, ok := v.(*Resolution)
	if !ok {
		return nil
	}
	return &RequestContext{Principal: p, Tenant: res}
}
