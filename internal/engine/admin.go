package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/events"
	"credchain/internal/ledger"
	"credchain/internal/repo"
)

// CreditWallet mints amount of token into owner's wallet. A zero token
// means the configured default. Admin only.
func (e Engine) CreditWallet(ctx context.Context, owner, token address.Address, amt uint64, actor address.Address) (bal domain.Balance, err error) {
	if owner.IsZero() {
		return domain.Balance{}, apperr.Validation(apperr.CodeInvalidArgument, "owner is required")
	}
	if token.IsZero() {
		token = e.Config.DefaultToken()
	}
	ctx, end := e.trace(ctx, "CreditWallet", owner)
	defer end(&err)
	unlock := e.locks.Lock(owner)
	defer unlock()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Auth.RequireAdmin(ctx, tx, actor); err != nil {
			return err
		}
		l := e.ledger()
		if err := l.Credit(ctx, tx, owner, token, amt, ledger.ReasonFaucet, owner); err != nil {
			return err
		}
		n, err := l.Balance(ctx, tx, owner, token)
		if err != nil {
			return err
		}
		bal = domain.Balance{Owner: owner, Token: token, Amount: n}
		return e.appendEvent(ctx, tx, "wallet.credited", events.KindWallet, owner, actor, events.EventPayload{
			"token":  token.String(),
			"amount": amt,
		})
	})
	if err != nil {
		return domain.Balance{}, err
	}
	return bal, nil
}

func (e Engine) WalletBalances(ctx context.Context, owner address.Address) ([]domain.Balance, error) {
	return ledger.Balances(ctx, e.DB, owner)
}

func (e Engine) LedgerEntries(ctx context.Context, f ledger.EntryFilter) ([]domain.LedgerEntry, error) {
	return ledger.Entries(ctx, e.DB, f)
}

// EscrowBalance reports what is still held for a contract.
func (e Engine) EscrowBalance(ctx context.Context, contractID string) (uint64, error) {
	c, err := e.GetContract(ctx, contractID)
	if err != nil {
		return 0, err
	}
	vault, err := derived(e.Deriver.EscrowVault(c.Address))
	if err != nil {
		return 0, err
	}
	return e.ledger().Balance(ctx, e.DB, vault.Address, c.PaymentToken)
}

func (e Engine) GrantRole(ctx context.Context, id address.Address, role domain.Role, actor address.Address) error {
	return e.changeRole(ctx, "GrantRole", id, role, actor, true)
}

func (e Engine) RevokeRole(ctx context.Context, id address.Address, role domain.Role, actor address.Address) error {
	return e.changeRole(ctx, "RevokeRole", id, role, actor, false)
}

func (e Engine) changeRole(ctx context.Context, op string, id address.Address, role domain.Role, actor address.Address, grant bool) (err error) {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return apperr.Validation(apperr.CodeInvalidArgument, "%v", err)
	}
	if id.IsZero() {
		return apperr.Validation(apperr.CodeInvalidArgument, "identity is required")
	}
	ctx, end := e.trace(ctx, op, id)
	defer end(&err)
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Auth.RequireAdmin(ctx, tx, actor); err != nil {
			return err
		}
		evt := "role.granted"
		if grant {
			if err := e.Repo.GrantRole(ctx, tx, id.String(), role, actor.String(), e.now().Format(time.RFC3339)); err != nil {
				return err
			}
		} else {
			existed, err := e.Repo.RevokeRole(ctx, tx, id.String(), role)
			if err != nil {
				return err
			}
			if !existed {
				return apperr.NotFound("role", id.String()+"/"+string(role), nil)
			}
			evt = "role.revoked"
		}
		return e.appendEvent(ctx, tx, evt, events.KindRole, id, actor, events.EventPayload{"role": string(role)})
	})
}

func (e Engine) Roles(ctx context.Context, id address.Address) ([]domain.Role, error) {
	return e.Auth.Roles(ctx, nil, id)
}

func (e Engine) RoleGrants(ctx context.Context, role domain.Role) ([]repo.RoleGrant, error) {
	return e.Repo.ListRoleGrants(ctx, role)
}

func (e Engine) Stats(ctx context.Context) (domain.Stats, error) {
	return e.Repo.Stats(ctx)
}

// CreateAPIKey binds a fresh secret to owner. Only the hash is stored; the
// secret is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, owner address.Address, name string) (domain.APIKey, string, error) {
	if owner.IsZero() {
		return domain.APIKey{}, "", apperr.Validation(apperr.CodeInvalidArgument, "owner is required")
	}
	if err := checkLen("name", name, 64); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "cck_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   owner.String(),
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, owner *address.Address) ([]domain.APIKey, error) {
	var id string
	if owner != nil {
		id = owner.String()
	}
	return e.Repo.ListAPIKeys(ctx, id)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id string) error {
	if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
		return notFound(err, "api key", id)
	}
	return nil
}
