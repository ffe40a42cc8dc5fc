package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	commands "proximity-guard/internal/commands/domain"
	monitor "proximity-guard/internal/monitor/domain"
)

// EpisodeRepository persists episode lifecycle rows for audit. The
// monitoring loop never reads them back; operators query the table
// directly or through reporting tools.
type EpisodeRepository struct {
	db *sql.DB
}

// NewEpisodeRepository constructs a repository.
func NewEpisodeRepository(db *sql.DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

// EnsureSchema creates the audit tables when they do not exist.
func (r *EpisodeRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS proximity_episodes (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ,
	trigger_horizontal_m DOUBLE PRECISION NOT NULL,
	trigger_vertical_m DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS proximity_episode_actions (
	episode_id TEXT NOT NULL,
	vehicle_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	attempts INT NOT NULL DEFAULT 0,
	recorded_at TIMESTAMPTZ NOT NULL,
	payload JSONB,
	PRIMARY KEY (episode_id, vehicle_id, recorded_at)
);
CREATE INDEX IF NOT EXISTS idx_proximity_episodes_session
	ON proximity_episodes (session_id, opened_at DESC);
`)
	return err
}

// EpisodeOpened inserts a new episode row.
func (r *EpisodeRepository) EpisodeOpened(ctx context.Context, sessionID string, episode monitor.Episode) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	if episode.ID == "" {
		return errors.New("episode repo: empty episode id")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO proximity_episodes (
	id, session_id, opened_at, trigger_horizontal_m, trigger_vertical_m
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`,
		episode.ID, sessionID, episode.OpenedAt.UTC(),
		episode.Trigger.HorizontalM, episode.Trigger.VerticalM)
	return err
}

// EpisodeClosed stamps the episode's close time.
func (r *EpisodeRepository) EpisodeClosed(ctx context.Context, sessionID string, episode monitor.Episode) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	closedAt := time.Now().UTC()
	if !episode.ClosedAt.IsZero() {
		closedAt = episode.ClosedAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE proximity_episodes
SET closed_at = $1
WHERE id = $2 AND session_id = $3`,
		closedAt, episode.ID, sessionID)
	return err
}

// ActionRecorded appends one dispatch outcome for an episode. Every
// outcome transition gets its own row, so retries stay visible.
func (r *EpisodeRepository) ActionRecorded(ctx context.Context, sessionID, episodeID string, result commands.Result) error {
	if r == nil || r.db == nil {
		return errors.New("episode repo: nil db")
	}
	if episodeID == "" || result.VehicleID == "" {
		return errors.New("episode repo: invalid action")
	}
	recordedAt := result.UpdatedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO proximity_episode_actions (
	episode_id, vehicle_id, outcome, detail, attempts, recorded_at, payload
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (episode_id, vehicle_id, recorded_at) DO UPDATE
SET outcome = EXCLUDED.outcome,
	detail = EXCLUDED.detail,
	attempts = EXCLUDED.attempts,
	payload = EXCLUDED.payload`,
		episodeID, result.VehicleID, string(result.Outcome), result.Detail,
		result.Attempts, recordedAt.UTC(), payload)
	return err
}
