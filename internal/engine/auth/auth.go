// Package auth answers role questions for the engine. Identity checks tied to
// a specific resource (client, freelancer, initiator) live next to the
// operation that needs them.
package auth

import (
	"context"
	"database/sql"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/repo"
)

// Service resolves platform roles. Admin is the configured platform
// authority, which holds the admin role even without a stored grant.
type Service struct {
	Repo  repo.Repo
	Admin address.Address
}

func (s Service) IsAdmin(ctx context.Context, tx *sql.Tx, id address.Address) (bool, error) {
	if !s.Admin.IsZero() && id == s.Admin {
		return true, nil
	}
	return s.Repo.HasRole(ctx, tx, id.String(), domain.RoleAdmin)
}

func (s Service) IsArbitrator(ctx context.Context, tx *sql.Tx, id address.Address) (bool, error) {
	return s.Repo.HasRole(ctx, tx, id.String(), domain.RoleArbitrator)
}

// RequireAdmin returns an AuthorizationError unless id is a platform admin.
func (s Service) RequireAdmin(ctx context.Context, tx *sql.Tx, id address.Address) error {
	ok, err := s.IsAdmin(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unauthorized(apperr.CodeNotAdmin, "%s is not a platform admin", id)
	}
	return nil
}

// Roles lists every role id holds, including the implicit admin grant.
func (s Service) Roles(ctx context.Context, tx *sql.Tx, id address.Address) ([]domain.Role, error) {
	roles, err := s.Repo.RolesFor(ctx, tx, id.String())
	if err != nil {
		return nil, err
	}
	if !s.Admin.IsZero() && id == s.Admin {
		for _, r := range roles {
			if r == domain.RoleAdmin {
				return roles, nil
			}
		}
		roles = append([]domain.Role{domain.RoleAdmin}, roles...)
	}
	return roles, nil
}
