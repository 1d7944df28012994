package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/gnom48/miabox-api/internal/types"
)

// ErrCallNotFound is returned when a completion references a call record that
// does not exist.
var ErrCallNotFound = errors.New("call record not found")

type Client struct {
	db *sql.DB
}

func NewClient(databaseURL string) (*Client, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// GetCall fetches one call record by id.
func (c *Client) GetCall(ctx context.Context, callID string) (*types.CallRecord, error) {
	var rec types.CallRecord
	var transcription sql.NullString

	query := `select id, user_id, phone_number, contact_name, length_seconds, call_type, date_time, transcription
		from calls where id = $1`
	err := c.db.QueryRowContext(ctx, query, callID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.PhoneNumber,
		&rec.ContactName,
		&rec.LengthSeconds,
		&rec.CallType,
		&rec.DateTime,
		&transcription,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call %s: %w", callID, err)
	}
	if transcription.Valid {
		rec.Transcription = &transcription.String
	}
	return &rec, nil
}

// SetTranscript writes the transcript onto a call record. The update is a
// plain overwrite keyed by id, so applying the same completion twice leaves
// the row unchanged and succeeds.
func (c *Client) SetTranscript(ctx context.Context, callID, transcript string) error {
	query := `update calls set transcription = $2 where id = $1`
	res, err := c.db.ExecContext(ctx, query, callID, transcript)
	if err != nil {
		return fmt.Errorf("failed to set transcript for call %s: %w", callID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transcript update for call %s: %w", callID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return nil
}
