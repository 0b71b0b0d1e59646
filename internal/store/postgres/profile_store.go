package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkravets/fundarb/internal/domain"
)

// ProfileStore implements domain.ProfileStore using PostgreSQL.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates a new ProfileStore backed by the given connection
// pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// GetEligibilityContext loads the read-only eligibility snapshot for one
// user: the profile row plus the per-exchange credential flags.
func (s *ProfileStore) GetEligibilityContext(ctx context.Context, userID string) (domain.UserEligibilityContext, error) {
	const query = `
		SELECT user_id, tier, chat_context, has_active_session, session_last_seen,
		       push_enabled, opted_categories, quiet_enabled, quiet_start, quiet_end,
		       compliance_blocked, prohibited_categories
		FROM user_profiles
		WHERE user_id = $1`

	var (
		u           domain.UserEligibilityContext
		tier        string
		chatContext string
		lastSeen    *time.Time
		opted       []string
		prohibited  []string
	)
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &tier, &chatContext, &u.HasActiveSession, &lastSeen,
		&u.Preferences.PushEnabled, &opted,
		&u.Preferences.QuietHours.Enabled, &u.Preferences.QuietHours.Start, &u.Preferences.QuietHours.End,
		&u.Compliance.Blocked, &prohibited,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserEligibilityContext{}, fmt.Errorf("postgres: profile %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserEligibilityContext{}, fmt.Errorf("postgres: get profile %s: %w", userID, err)
	}

	u.Tier = domain.SubscriptionTier(tier)
	u.ChatContext = domain.ChatContextType(chatContext)
	if lastSeen != nil {
		u.SessionLastSeen = *lastSeen
	}
	for _, c := range opted {
		u.Preferences.OptedCategories = append(u.Preferences.OptedCategories, domain.OpportunityCategory(c))
	}
	for _, c := range prohibited {
		u.Compliance.ProhibitedCategories = append(u.Compliance.ProhibitedCategories, domain.OpportunityCategory(c))
	}

	keys, err := s.exchangeKeys(ctx, userID)
	if err != nil {
		return domain.UserEligibilityContext{}, err
	}
	u.ExchangeKeys = keys

	return u, nil
}

func (s *ProfileStore) exchangeKeys(ctx context.Context, userID string) (map[domain.ExchangeID]bool, error) {
	const query = `SELECT exchange, has_valid_keys FROM user_exchange_keys WHERE user_id = $1`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exchange keys %s: %w", userID, err)
	}
	defer rows.Close()

	keys := make(map[domain.ExchangeID]bool)
	for rows.Next() {
		var exchange string
		var valid bool
		if err := rows.Scan(&exchange, &valid); err != nil {
			return nil, fmt.Errorf("postgres: scan exchange key: %w", err)
		}
		keys[domain.ExchangeID(exchange)] = valid
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list exchange keys rows: %w", err)
	}
	return keys, nil
}

// ListCandidateUserIDs returns the ids of users whose session activity falls
// inside the window, the candidate set for one distribution pass.
func (s *ProfileStore) ListCandidateUserIDs(ctx context.Context, activeWithin time.Duration) ([]string, error) {
	const query = `
		SELECT user_id
		FROM user_profiles
		WHERE has_active_session
		  AND session_last_seen IS NOT NULL
		  AND session_last_seen > NOW() - $1::interval
		ORDER BY user_id`

	rows, err := s.pool.Query(ctx, query, activeWithin)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list candidates rows: %w", err)
	}
	return ids, nil
}

// TouchSession marks the user's session active and restarts the sliding
// window from now. Any bot interaction routes through here.
func (s *ProfileStore) TouchSession(ctx context.Context, userID string) error {
	const query = `
		UPDATE user_profiles
		SET has_active_session = TRUE, session_last_seen = NOW(), updated_at = NOW()
		WHERE user_id = $1`

	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("postgres: touch session %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: touch session %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ProfileStore = (*ProfileStore)(nil)
