// Package db archives final transcripts in Postgres.
package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"node.town/scribe/transcript"
)

//go:embed db_init.sql
var sqlFS embed.FS

const insertTranscript = `
INSERT INTO transcripts (meeting_id, segment_id, participant, track_sid, text, spoken_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (meeting_id, segment_id) DO NOTHING`

// Execer is the part of a pgx connection or pool the archive needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Archive struct {
	db     Execer
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects to databaseURL and makes sure the schema exists.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*Archive, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	sqlFile, err := sqlFS.ReadFile("db_init.sql")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read embedded db_init.sql: %w", err)
	}

	if _, err := pool.Exec(ctx, string(sqlFile)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute embedded db_init.sql: %w", err)
	}

	logger.Info("transcript archive ready")

	a := NewArchive(pool, logger)
	a.pool = pool
	return a, nil
}

func NewArchive(db Execer, logger *log.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

func (a *Archive) Name() string { return "postgres" }

// Mirror stores final transcripts. Interim results are skipped since a
// final for the same speech always follows.
func (a *Archive) Mirror(ctx context.Context, meetingID string, ev transcript.Event) error {
	if ev.Kind != transcript.Final {
		return nil
	}
	_, err := a.db.Exec(
		ctx,
		insertTranscript,
		meetingID,
		ev.SegmentID,
		ev.Participant,
		ev.TrackSID,
		ev.Text,
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive transcript %s: %w", ev.SegmentID, err)
	}
	return nil
}

func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
