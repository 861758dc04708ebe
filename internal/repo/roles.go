package repo

import (
	"context"
	"database/sql"
	"sort"

	"credchain/internal/domain"
)

// RoleGrant is one row of actor_roles.
type RoleGrant struct {
	ActorID   string      `json:"actor_id"`
	Role      domain.Role `json:"role"`
	GrantedBy string      `json:"granted_by"`
	GrantedAt string      `json:"granted_at"`
}

func (r Repo) GrantRole(ctx context.Context, tx *sql.Tx, actorID string, role domain.Role, grantedBy, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role, granted_by, granted_at) VALUES (?,?,?,?)`,
		actorID, string(role), grantedBy, now)
	return err
}

// RevokeRole removes a grant and reports whether one existed.
func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID string, role domain.Role) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role=?`, actorID, string(role))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) HasRole(ctx context.Context, tx *sql.Tx, actorID string, role domain.Role) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM actor_roles WHERE actor_id=? AND role=?`, actorID, string(role)).Scan(&n)
	return n > 0, err
}

func (r Repo) RolesFor(ctx context.Context, tx *sql.Tx, actorID string) ([]domain.Role, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT role FROM actor_roles WHERE actor_id=?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []domain.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, domain.Role(role))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, rows.Err()
}

// ListRoleGrants returns grants, optionally filtered to one role.
func (r Repo) ListRoleGrants(ctx context.Context, role domain.Role) ([]RoleGrant, error) {
	query := `SELECT actor_id, role, granted_by, granted_at FROM actor_roles`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY role, actor_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoleGrant
	for rows.Next() {
		var g RoleGrant
		var role string
		if err := rows.Scan(&g.ActorID, &role, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		g.Role = domain.Role(role)
		out = append(out, g)
	}
	return out, rows.Err()
}
