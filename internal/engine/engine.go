package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"credchain/internal/address"
	"credchain/internal/apperr"
	"credchain/internal/config"
	"credchain/internal/engine/auth"
	"credchain/internal/events"
	"credchain/internal/ledger"
	"credchain/internal/repo"
	"credchain/internal/telemetry"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Deriver address.Deriver
	Now     func() time.Time

	locks *keyedMutex
}

// New builds an engine over a migrated database. It fails when a configured
// program ID does not parse.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	r := repo.Repo{DB: db}
	d, err := cfg.Deriver()
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:      db,
		Repo:    r,
		Events:  events.Writer{},
		Auth:    auth.Service{Repo: r, Admin: cfg.Admin()},
		Config:  cfg,
		Deriver: d,
		Now:     time.Now,
		locks:   newKeyedMutex(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) ledger() ledger.Ledger {
	return ledger.Ledger{Now: e.now}
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind string, entity address.Address, actor address.Address, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entity.String(), actor.String(), payload)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// trace opens a span for op. The returned func records the final error.
func (e Engine) trace(ctx context.Context, op string, target address.Address) (context.Context, func(*error)) {
	ctx, span := telemetry.Tracer().Start(ctx, "engine."+op)
	if !target.IsZero() {
		span.SetAttributes(attribute.String("credchain.address", target.String()))
	}
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
			span.SetAttributes(attribute.String("credchain.error_code", string(apperr.CodeOf(*errp))))
		}
		span.End()
	}
}

// notFound turns a storage miss into a NotFound error for entity.
func notFound(err error, entity, key string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound(entity, key, err)
	}
	return err
}

// conflict maps a lost compare-and-swap onto CONCURRENT_MODIFICATION.
func conflict(err error, entity string, addr address.Address) error {
	if errors.Is(err, repo.ErrStale) {
		return &apperr.Error{
			Kind:     apperr.KindPrecondition,
			Code:     apperr.CodeConcurrentUpdate,
			Message:  fmt.Sprintf("%s %s was modified concurrently; re-read and retry", entity, addr),
			Metadata: map[string]string{"entity": entity, "address": addr.String()},
			Cause:    err,
		}
	}
	return err
}

// derived wraps derivation failures in the error taxonomy.
func derived(pda address.PDA, err error) (address.PDA, error) {
	switch {
	case err == nil:
		return pda, nil
	case errors.Is(err, address.ErrSeedTooLong), errors.Is(err, address.ErrTooManySeeds):
		return address.PDA{}, &apperr.Error{Kind: apperr.KindValidation, Code: apperr.CodeFieldTooLong, Message: err.Error(), Cause: err}
	case errors.Is(err, address.ErrNoBump):
		return address.PDA{}, &apperr.Error{Kind: apperr.KindResourceExhaustion, Code: apperr.CodeAddressCollision, Message: err.Error(), Cause: err}
	}
	return address.PDA{}, err
}

func checkLen(field, v string, max int) error {
	if n := utf8.RuneCountInString(v); n > max {
		return apperr.Validation(apperr.CodeFieldTooLong, "%s is %d characters; max %d", field, n, max).With("field", field)
	}
	return nil
}

func checkRequired(field, v string, max int) error {
	if v == "" {
		return apperr.Validation(apperr.CodeInvalidArgument, "%s is required", field).With("field", field)
	}
	return checkLen(field, v, max)
}

// checkID bounds business keys used as derivation seeds.
func checkID(field, v string) error {
	if v == "" {
		return apperr.Validation(apperr.CodeInvalidArgument, "%s is required", field).With("field", field)
	}
	if len(v) > address.MaxSeedLen {
		return apperr.Validation(apperr.CodeFieldTooLong, "%s is %d bytes; max %d", field, len(v), address.MaxSeedLen).With("field", field)
	}
	return nil
}

func statusStrings[T ~string](in ...T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
