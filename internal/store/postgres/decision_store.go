package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkravets/fundarb/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL. The table
// is append-only; rows leave it only through the cold-storage archiver.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given
// connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// InsertBatch appends the decisions of one distribution pass. The batch is
// sent as a single pgx batch round trip.
func (s *DecisionStore) InsertBatch(ctx context.Context, decisions []domain.DistributionDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	const query = `
		INSERT INTO distribution_decisions
			(attempt_id, opportunity_id, user_id, outcome, skip_reason, chat_context, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, d := range decisions {
		batch.Queue(query,
			d.AttemptID, d.OpportunityID, d.UserID,
			string(d.Outcome), string(d.SkipReason), string(d.ChatContext),
			d.AttemptedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range decisions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert decisions: %w", err)
		}
	}
	return nil
}

// ListBefore returns decisions attempted strictly before the cutoff, oldest
// first, for the cold-storage archiver.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.DistributionDecision, error) {
	const query = `
		SELECT attempt_id, opportunity_id, user_id, outcome, skip_reason, chat_context, attempted_at
		FROM distribution_decisions
		WHERE attempted_at < $1
		ORDER BY attempted_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.DistributionDecision
	for rows.Next() {
		var d domain.DistributionDecision
		var outcome, skipReason, chatContext string
		if err := rows.Scan(&d.AttemptID, &d.OpportunityID, &d.UserID,
			&outcome, &skipReason, &chatContext, &d.AttemptedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		d.Outcome = domain.DecisionOutcome(outcome)
		d.SkipReason = domain.SkipReason(skipReason)
		d.ChatContext = domain.ChatContextType(chatContext)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list decisions rows: %w", err)
	}
	return decisions, nil
}

// DeleteBefore removes decisions attempted strictly before the cutoff, after
// the archiver has uploaded them.
func (s *DecisionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM distribution_decisions WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.DecisionStore = (*DecisionStore)(nil)
