package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/repository"
	apperrors "github.com/spec-kit/account-service/pkg/util"
)

const identityKey = "auth_identity"

// AuthMiddleware validates bearer tokens and loads the account behind them.
type AuthMiddleware struct {
	tokens   *TokenManager
	accounts repository.AccountRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, accounts repository.AccountRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, accounts: accounts}
}

// Authorize returns a handler that admits the request only when it carries a
// valid token for a verified, non-deleted account whose embedded role is in
// roles (any role when roles is empty). Checks run in a fixed order and the
// first failure wins. The role check uses the role from the token claims,
// not the freshly loaded account: a token issued before a role change keeps
// its old role until it expires.
func (m *AuthMiddleware) Authorize(roles ...domain.Role) fiber.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get("Authorization"))
		if token == "" {
			return apperrors.NewUnauthorized("missing authorization credential")
		}

		claims, err := m.tokens.ParseToken(token)
		if err != nil {
			// The underlying jwt error is never surfaced to the caller.
			return apperrors.NewUnauthorized("credential could not be verified")
		}

		account, err := m.accounts.GetByID(c.UserContext(), claims.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("account", nil)
			}
			return apperrors.MapError(err)
		}

		if !account.IsVerified {
			return apperrors.NewForbidden("verification required")
		}
		if account.IsDeleted {
			return apperrors.NewForbidden("account deleted")
		}

		if len(allowed) > 0 {
			if _, ok := allowed[claims.Role]; !ok {
				return apperrors.NewUnauthorized("role mismatch")
			}
		}

		c.Locals(identityKey, claims)
		return c.Next()
	}
}

// IdentityFromContext retrieves the decoded claims attached by Authorize.
func IdentityFromContext(c *fiber.Ctx) (*Claims, bool) {
	val := c.Locals(identityKey)
	if val == nil {
		return nil, false
	}
	claims, ok := val.(*Claims)
	return claims, ok
}

// bearerToken accepts both a bare token and the "Bearer <token>" form.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}
