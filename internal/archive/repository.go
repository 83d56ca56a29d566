package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go-relay/internal/relay"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveEvents inserts a batch in one transaction. Re-inserting an event id is ignored.
func (r *Repository) SaveEvents(ctx context.Context, events []relay.ChatEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_events (id, room_id, sender_id, sender_name, content, is_moderated, moderation_action, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.ID, ev.RoomID, ev.SenderID, ev.SenderName, ev.Text,
			ev.IsModerated, ev.ModerationAction, time.UnixMilli(ev.Timestamp).UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}
