package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/darbak/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a Postgres connection for the given DSN.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateRequest relies on the UNIQUE(client_id, captain_id) constraint: the
// row is reused for a re-request after a terminal outcome, and the upsert's
// WHERE clause turns a live duplicate into zero returned rows.
func (s *PostgresStore) CreateRequest(ctx context.Context, clientID, captainID int64, destination string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO matches (client_id, captain_id, destination, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (client_id, captain_id) DO UPDATE SET
			destination=EXCLUDED.destination,
			status='pending',
			created_at=now(),
			updated_at=now()
		WHERE matches.status IN ('completed', 'rejected', 'cancelled')
		RETURNING id`,
		clientID, captainID, destination).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAlreadyPending
	}
	if err != nil {
		return 0, fmt.Errorf("create request %d->%d: %w", clientID, captainID, err)
	}
	return id, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, id int64) (*models.Match, error) {
	var m models.Match
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, captain_id, destination, status, created_at, updated_at
		FROM matches WHERE id=$1`, id).
		Scan(&m.ID, &m.ClientID, &m.CaptainID, &m.Destination, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match %d: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) Transition(ctx context.Context, matchID int64, from []models.Status, to models.Status, captainAvailable *bool) (*models.Match, models.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes near-simultaneous events on one match.
	var m models.Match
	err = tx.QueryRowContext(ctx, `
		SELECT id, client_id, captain_id, destination, status, created_at, updated_at
		FROM matches WHERE id=$1 FOR UPDATE`, matchID).
		Scan(&m.ID, &m.ClientID, &m.CaptainID, &m.Destination, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrMatchNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("lock match %d: %w", matchID, err)
	}

	prior := m.Status
	if !statusIn(prior, from) {
		return nil, "", ErrStateConflict
	}

	if captainAvailable != nil {
		if *captainAvailable {
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET available=TRUE, updated_at=now() WHERE user_id=$1`,
				m.CaptainID); err != nil {
				return nil, "", fmt.Errorf("release captain %d: %w", m.CaptainID, err)
			}
		} else {
			// Conditional claim: only one in-flight confirm can take the
			// captain; everyone else rolls back here.
			res, err := tx.ExecContext(ctx, `
				UPDATE users SET available=FALSE, updated_at=now()
				WHERE user_id=$1 AND available=TRUE`, m.CaptainID)
			if err != nil {
				return nil, "", fmt.Errorf("claim captain %d: %w", m.CaptainID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, "", fmt.Errorf("claim captain %d: %w", m.CaptainID, err)
			}
			if n == 0 {
				return nil, "", ErrCaptainUnavailable
			}
		}
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE matches SET status=$1, updated_at=now() WHERE id=$2
		RETURNING updated_at`, to, matchID).Scan(&m.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("update match %d: %w", matchID, err)
	}
	m.Status = to

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit transition %d: %w", matchID, err)
	}
	return &m, prior, nil
}

func (s *PostgresStore) SaveRating(ctx context.Context, r *models.Rating) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratings (match_id, client_id, captain_id, stars, comment, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id, client_id) DO UPDATE SET
			stars=EXCLUDED.stars,
			comment=EXCLUDED.comment,
			note=EXCLUDED.note,
			updated_at=now()`,
		r.MatchID, r.ClientID, r.CaptainID, r.Stars, r.Comment, r.Note)
	if err != nil {
		return fmt.Errorf("save rating for match %d: %w", r.MatchID, err)
	}
	return nil
}

func (s *PostgresStore) RatingSummary(ctx context.Context, captainID int64) (models.RatingSummary, error) {
	var sum models.RatingSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(stars), 0), COUNT(*) FROM ratings WHERE captain_id=$1`,
		captainID).Scan(&sum.Average, &sum.Count)
	if err != nil {
		return models.RatingSummary{}, fmt.Errorf("rating summary for captain %d: %w", captainID, err)
	}
	return sum, nil
}

func (s *PostgresStore) Stats(ctx context.Context, userID int64, role models.Role) (*models.UserStats, error) {
	var st models.UserStats
	if role == models.RoleClient {
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
				COUNT(*) FILTER (WHERE status = 'completed'),
				COUNT(*) FILTER (WHERE status = 'pending')
			FROM matches WHERE client_id=$1`, userID).
			Scan(&st.TotalRequests, &st.CompletedTrips, &st.PendingTrips)
		if err != nil {
			return nil, fmt.Errorf("client stats %d: %w", userID, err)
		}
		return &st, nil
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			(SELECT COALESCE(AVG(stars), 0) FROM ratings WHERE captain_id=$1)
		FROM matches WHERE captain_id=$1`, userID).
		Scan(&st.TotalRequests, &st.CompletedTrips, &st.ActiveTrips, &st.AverageRating)
	if err != nil {
		return nil, fmt.Errorf("captain stats %d: %w", userID, err)
	}
	return &st, nil
}
