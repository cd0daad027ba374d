package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
	"github.com/mirastream/streaming-platform-auth/internal/repository"
)

// PrincipalRepository implements port.PrincipalDirectory using PostgreSQL.
type PrincipalRepository struct {
	begin   pgTxBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPrincipalRepository constructs a repository backed by any executor
// that satisfies pgExecutor.
func NewPrincipalRepository(exec pgExecutor) *PrincipalRepository {
	repo := &PrincipalRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if beginner, ok := exec.(pgTxBeginner); ok {
		repo.begin = beginner
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *PrincipalRepository) WithTx(tx pgx.Tx) *PrincipalRepository {
	if tx == nil {
		return r
	}
	return &PrincipalRepository{
		begin:   r.begin,
		exec:    tx,
		builder: r.builder,
	}
}

var principalColumns = []string{
	"id",
	"email",
	"first_name",
	"last_name",
	"password_hash",
	"roles",
	"active",
	"email_verified",
	"failed_attempts",
	"lock_until",
	"created_at",
	"last_login",
}

// Create inserts the principal row and the provisioning outbox event in
// one transaction.
func (r *PrincipalRepository) Create(ctx context.Context, principal domain.Principal, event domain.OutboxEvent) error {
	if r.begin == nil {
		return errors.New("transaction support not configured")
	}

	tx, err := r.begin.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create principal tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := r.builder.Insert("auth.principals").
		Columns(principalColumns...).
		Values(
			principal.ID,
			strings.ToLower(principal.Email),
			principal.FirstName,
			principal.LastName,
			principal.PasswordHash,
			principal.Roles,
			principal.Active,
			principal.EmailVerified,
			principal.FailedAttempts,
			principal.LockUntil,
			principal.CreatedAt,
			principal.LastLogin,
		)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert principal sql: %w", err)
	}

	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert principal: %w", err)
	}

	if err := NewOutboxRepository(tx).Append(ctx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create principal tx: %w", err)
	}

	return nil
}

// GetByID fetches a principal by its identifier.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	return r.getWhere(ctx, squirrel.Eq{"id": id})
}

// GetByEmail fetches a principal by email, case-insensitively.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return r.getWhere(ctx, squirrel.Eq{"email": strings.ToLower(strings.TrimSpace(email))})
}

// RecordFailedLogin increments the failure counter and sets the lockout
// deadline when the threshold is crossed, all in one statement so that
// concurrent failed attempts never undercount.
func (r *PrincipalRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	lockUntil := time.Now().UTC().Add(lockFor)

	const sql = `
		UPDATE auth.principals
		SET failed_attempts = failed_attempts + 1,
		    lock_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE lock_until END
		WHERE id = $1
		RETURNING failed_attempts, lock_until`

	var attempts int
	var lockedUntil *time.Time
	if err := r.exec.QueryRow(ctx, sql, id, threshold, lockUntil).Scan(&attempts, &lockedUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, repository.ErrNotFound
		}
		return 0, nil, fmt.Errorf("record failed login: %w", err)
	}

	return attempts, lockedUntil, nil
}

// RecordLoginSuccess resets the failure counter and appends the outbox
// event in one transaction. If the principal update fails no event is
// written; if it succeeds the event will eventually be published.
func (r *PrincipalRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time, event domain.OutboxEvent) error {
	if r.begin == nil {
		return errors.New("transaction support not configured")
	}

	tx, err := r.begin.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin login success tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql, args, err := r.builder.Update("auth.principals").
		Set("failed_attempts", 0).
		Set("lock_until", nil).
		Set("last_login", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build login success sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("reset failure counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	outbox := NewOutboxRepository(tx)
	if err := outbox.Append(ctx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit login success tx: %w", err)
	}

	return nil
}

// Unlock clears the lockout window and failure counter. Idempotent.
func (r *PrincipalRepository) Unlock(ctx context.Context, id string) error {
	sql, args, err := r.builder.Update("auth.principals").
		Set("failed_attempts", 0).
		Set("lock_until", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build unlock sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("unlock principal: %w", err)
	}

	return nil
}

// UpdatePassword replaces the stored hash.
func (r *PrincipalRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	sql, args, err := r.builder.Update("auth.principals").
		Set("password_hash", passwordHash).
		Set("password_changed_at", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *PrincipalRepository) getWhere(ctx context.Context, predicate squirrel.Sqlizer) (*domain.Principal, error) {
	sql, args, err := r.builder.Select(principalColumns...).
		From("auth.principals").
		Where(predicate).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal sql: %w", err)
	}

	var p domain.Principal
	err = r.exec.QueryRow(ctx, sql, args...).Scan(
		&p.ID,
		&p.Email,
		&p.FirstName,
		&p.LastName,
		&p.PasswordHash,
		&p.Roles,
		&p.Active,
		&p.EmailVerified,
		&p.FailedAttempts,
		&p.LockUntil,
		&p.CreatedAt,
		&p.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select principal: %w", err)
	}

	return &p, nil
}

var _ port.PrincipalDirectory = (*PrincipalRepository)(nil)
