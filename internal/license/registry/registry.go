// Package registry implements the seat/machine registry (C10):
// activate/deactivate/validate over machine_registrations, plus a
// write-once trial_machines claim. Activate runs inside a single
// transaction holding a row lock on the subscription so concurrent
// activates can't over-allocate seats; Deactivate, Validate and
// ClaimTrial are single statements that do not take that lock. Adapted from the teacher's
// pgxpool connection-pool idiom (internal/db/postgres.go in the pack's
// coinjoin-engine repo — Connect/Close/transaction shape) and schema
// names from original_source's schemas.py/alembic migration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptshield/internal/apperr"
	"promptshield/internal/auditlog"
	"promptshield/internal/model"
)

// Registry is the seat/machine registry, backed by PostgreSQL with an
// optional read-through cache for validate's healthy path.
type Registry struct {
	pool  *pgxpool.Pool
	cache ValidateCache // nil disables the read-through cache
	log   *auditlog.Logger
}

// Connect opens the connection pool and pings it once to fail fast on
// a misconfigured DSN, the same shape as the pack's db.Connect.
func Connect(ctx context.Context, dsn string, log *auditlog.Logger) (*Registry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create registry pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping registry database: %w", err)
	}
	return &Registry{pool: pool, log: log}, nil
}

// WithCache attaches a read-through validate cache.
func (r *Registry) WithCache(c ValidateCache) *Registry {
	r.cache = c
	return r
}

// Pool exposes the underlying connection pool so sibling services
// (license/auth's user store) can share it instead of opening a
// second pool against the same database.
func (r *Registry) Pool() *pgxpool.Pool {
	return r.pool
}

// Close releases the pool and, if present, the read-through cache.
func (r *Registry) Close() {
	if r.cache != nil {
		r.cache.Close() //nolint:errcheck // best-effort close on shutdown
	}
	r.pool.Close()
}

// Activate registers (subscriptionID, fingerprint) against the
// subscription's seat count. If the pair is already active it touches
// last_validated instead of inserting a duplicate row; an inactive row
// for the pair is reactivated only while a seat is free. The whole
// check-then-insert runs under a `SELECT ... FOR UPDATE` row lock on
// the subscription so two concurrent activates on the same
// subscription can't both observe count < seats and both insert.
func (r *Registry) Activate(ctx context.Context, subscriptionID, fingerprint, machineName string) (model.MachineRegistration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "begin activate transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	var seats int
	if err := tx.QueryRow(ctx,
		`SELECT seats FROM subscriptions WHERE id = $1 FOR UPDATE`, subscriptionID,
	).Scan(&seats); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MachineRegistration{}, apperr.New(apperr.NotFound, "subscription not found")
		}
		return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "lock subscription row", err)
	}

	now := time.Now().UTC()
	var existing model.MachineRegistration
	err = tx.QueryRow(ctx,
		`SELECT machine_name, activated_at, last_validated, active
		 FROM machine_registrations WHERE subscription_id = $1 AND machine_fingerprint = $2`,
		subscriptionID, fingerprint,
	).Scan(&existing.MachineName, &existing.ActivatedAt, &existing.LastValidated, &existing.Active)

	switch {
	case err == nil:
		if !existing.Active {
			var activeCount int
			if countErr := tx.QueryRow(ctx,
				`SELECT count(*) FROM machine_registrations WHERE subscription_id = $1 AND active = true`,
				subscriptionID,
			).Scan(&activeCount); countErr != nil {
				return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "count active machines", countErr)
			}
			if activeCount >= seats {
				return model.MachineRegistration{}, apperr.New(apperr.SeatsExhausted, "no seats remaining on this subscription")
			}
		}
		if _, updateErr := tx.Exec(ctx,
			`UPDATE machine_registrations SET last_validated = $1, active = true
			 WHERE subscription_id = $2 AND machine_fingerprint = $3`,
			now, subscriptionID, fingerprint,
		); updateErr != nil {
			return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "touch existing registration", updateErr)
		}
		existing.SubscriptionID = subscriptionID
		existing.MachineFingerprint = fingerprint
		existing.LastValidated = now
		existing.Active = true
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "commit activate", commitErr)
		}
		return existing, nil

	case errors.Is(err, pgx.ErrNoRows):
		var activeCount int
		if countErr := tx.QueryRow(ctx,
			`SELECT count(*) FROM machine_registrations WHERE subscription_id = $1 AND active = true`,
			subscriptionID,
		).Scan(&activeCount); countErr != nil {
			return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "count active machines", countErr)
		}
		if activeCount >= seats {
			return model.MachineRegistration{}, apperr.New(apperr.SeatsExhausted, "no seats remaining on this subscription")
		}

		if _, insertErr := tx.Exec(ctx,
			`INSERT INTO machine_registrations
			 (subscription_id, machine_fingerprint, machine_name, activated_at, last_validated, active)
			 VALUES ($1, $2, $3, $4, $4, true)`,
			subscriptionID, fingerprint, machineName, now,
		); insertErr != nil {
			return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "insert registration", insertErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "commit activate", commitErr)
		}
		r.invalidateCache(subscriptionID, fingerprint)
		return model.MachineRegistration{
			SubscriptionID:     subscriptionID,
			MachineFingerprint: fingerprint,
			MachineName:        machineName,
			ActivatedAt:        now,
			LastValidated:      now,
			Active:             true,
		}, nil

	default:
		return model.MachineRegistration{}, apperr.Wrap(apperr.Internal, "query existing registration", err)
	}
}

// Deactivate flips active=false, freeing a seat slot.
func (r *Registry) Deactivate(ctx context.Context, subscriptionID, fingerprint string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE machine_registrations SET active = false
		 WHERE subscription_id = $1 AND machine_fingerprint = $2`,
		subscriptionID, fingerprint,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "deactivate registration", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "no matching registration")
	}
	r.invalidateCache(subscriptionID, fingerprint)
	return nil
}

// Validate reports whether (subscriptionID, fingerprint) is an active
// registration, touching last_validated on success. A cache hit
// satisfies this without a round trip to Postgres.
func (r *Registry) Validate(ctx context.Context, subscriptionID, fingerprint string) error {
	if r.cache != nil {
		if active, ok := r.cache.Get(subscriptionID, fingerprint); ok {
			if !active {
				return apperr.New(apperr.NotFound, "machine not activated")
			}
			return nil
		}
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE machine_registrations SET last_validated = $1
		 WHERE subscription_id = $2 AND machine_fingerprint = $3 AND active = true`,
		time.Now().UTC(), subscriptionID, fingerprint,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "validate registration", err)
	}
	active := tag.RowsAffected() > 0
	if r.cache != nil {
		r.cache.Set(subscriptionID, fingerprint, active)
	}
	if !active {
		return apperr.New(apperr.NotFound, "machine not activated")
	}
	return nil
}

// ClaimTrial inserts a write-once trial_machines row. A unique
// violation on machine_fingerprint means this machine already
// consumed its trial; the call fails TrialUsed.
func (r *Registry) ClaimTrial(ctx context.Context, fingerprint, email string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trial_machines (machine_fingerprint, first_trial_at, user_email) VALUES ($1, $2, $3)`,
		fingerprint, time.Now().UTC(), email,
	)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.New(apperr.TrialUsed, "this machine has already claimed a trial")
	}
	return apperr.Wrap(apperr.Internal, "claim trial", err)
}

func (r *Registry) invalidateCache(subscriptionID, fingerprint string) {
	if r.cache != nil {
		r.cache.Invalidate(subscriptionID, fingerprint)
	}
}
