package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// FindOrCreatePlayer returns the id of the player with the given normalized
// name, inserting one if none exists. Concurrent callers resolve to the
// same row.
func (s *PostgresStore) FindOrCreatePlayer(ctx context.Context, name, normalizedName string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO players (id, name, normalized_name, created_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (normalized_name) DO NOTHING
		 RETURNING id`,
		uuid.New(), name, normalizedName,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("insert player: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT id FROM players WHERE normalized_name = $1`, normalizedName,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("select player: %w", err)
	}
	return id, nil
}

// CreateHand writes a hand with its players and actions in one transaction.
func (s *PostgresStore) CreateHand(ctx context.Context, hand *models.PersistedHand) error {
	raw, err := json.Marshal(hand.RawData)
	if err != nil {
		return fmt.Errorf("marshal raw hand: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin hand tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	flop := hand.BoardFlop
	if flop == nil {
		flop = []string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO hands (id, stream_id, job_id, number, description, timestamp,
		                    video_timestamp_start, video_timestamp_end, stakes, small_blind, big_blind, ante,
		                    board_flop, board_turn, board_river, pot_size, raw_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		hand.ID, hand.StreamID, hand.JobID, hand.Number, hand.Description, hand.Timestamp,
		hand.VideoTimestampStart, hand.VideoTimestampEnd, hand.Stakes, hand.SmallBlind, hand.BigBlind, hand.Ante,
		flop, hand.BoardTurn, hand.BoardRiver, hand.PotSize, raw, hand.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert hand: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range hand.Players {
		var desc *string
		if p.HandDescription != "" {
			desc = &p.HandDescription
		}
		batch.Queue(
			`INSERT INTO hand_players (hand_id, player_id, position, seat, starting_stack, ending_stack,
			                           hole_cards, is_winner, final_amount, hand_description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			hand.ID, p.PlayerID, p.Position, p.Seat, p.StartingStack, p.EndingStack,
			p.HoleCards, p.IsWinner, p.FinalAmount, desc)
	}
	for _, a := range hand.Actions {
		batch.Queue(
			`INSERT INTO hand_actions (hand_id, player_id, sequence, street, action_type, amount)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			hand.ID, a.PlayerID, a.Sequence, a.Street, a.ActionType, a.Amount)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert hand players and actions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit hand: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobHands(ctx context.Context, jobID uuid.UUID) ([]StoredHand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, number, raw_data, created_at FROM hands WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job hands: %w", err)
	}
	defer rows.Close()
	return scanStoredHands(rows)
}

func (s *PostgresStore) ListHandsSince(ctx context.Context, since time.Time, limit int) ([]StoredHand, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, number, raw_data, created_at FROM hands
		 WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list hands since: %w", err)
	}
	defer rows.Close()
	return scanStoredHands(rows)
}

func scanStoredHands(rows pgx.Rows) ([]StoredHand, error) {
	var hands []StoredHand
	for rows.Next() {
		var (
			h   StoredHand
			raw []byte
		)
		if err := rows.Scan(&h.ID, &h.JobID, &h.Number, &raw, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hand: %w", err)
		}
		if err := json.Unmarshal(raw, &h.Raw); err != nil {
			return nil, fmt.Errorf("decode raw hand %s: %w", h.ID, err)
		}
		hands = append(hands, h)
	}
	return hands, rows.Err()
}
