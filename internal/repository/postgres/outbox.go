package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mirastream/streaming-platform-auth/internal/core/domain"
	"github.com/mirastream/streaming-platform-auth/internal/core/port"
)

// OutboxRepository persists domain events alongside the state changes that
// produced them. The relay drains unpublished rows; delivery is
// at-least-once and consumers dedupe by event id.
type OutboxRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewOutboxRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewOutboxRepository(exec pgExecutor) *OutboxRepository {
	return &OutboxRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *OutboxRepository) WithTx(tx pgx.Tx) *OutboxRepository {
	if tx == nil {
		return r
	}
	return &OutboxRepository{
		exec:    tx,
		builder: r.builder,
	}
}

// Append inserts an unpublished event row.
func (r *OutboxRepository) Append(ctx context.Context, event domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}

	sql, args, err := r.builder.Insert("auth.outbox").
		Columns("id", "event_type", "subject", "payload", "created_at", "published_at").
		Values(event.ID, event.EventType, event.Subject, payload, event.CreatedAt, nil).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert outbox sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// FetchUnpublished returns up to limit unpublished events, oldest first.
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	sql, args, err := r.builder.Select("id", "event_type", "subject", "payload", "created_at").
		From("auth.outbox").
		Where("published_at IS NULL").
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select outbox sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select outbox events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.EventType, &event.Subject, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode outbox payload: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}

	return events, nil
}

// MarkPublished stamps the supplied event ids as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}

	sql, args, err := r.builder.Update("auth.outbox").
		Set("published_at", at).
		Where(squirrel.Eq{"id": eventIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark published sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}

	return nil
}

var _ port.OutboxRepository = (*OutboxRepository)(nil)
