// Package persist writes extracted hands, with their players and actions,
// to the store one hand at a time.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/internal/metrics"
	"github.com/kiranshivaraju/handhunter/internal/poker"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// Store is the subset of store.Store the persister needs.
type Store interface {
	FindOrCreatePlayer(ctx context.Context, name, normalizedName string) (uuid.UUID, error)
	CreateHand(ctx context.Context, hand *models.PersistedHand) error
}

// Target says where a segment's hands belong.
type Target struct {
	StreamID uuid.UUID
	JobID    uuid.UUID
	Segment  models.Segment
	// StartingNumber is the display number base for hands without one.
	StartingNumber int
}

// Result summarizes one Persist call. Errors holds one message per failed hand.
type Result struct {
	SuccessCount int
	FailedCount  int
	Errors       []string
	HandIDs      []uuid.UUID
}

type Persister struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Persister)

func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Persister) { p.metrics = m }
}

func New(store Store, opts ...Option) *Persister {
	p := &Persister{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Persist writes each hand independently. A hand that fails is counted and
// logged; later hands are still attempted.
func (p *Persister) Persist(ctx context.Context, hands []models.ExtractedHand, t Target) Result {
	var res Result
	players := make(map[string]uuid.UUID)

	for i := range hands {
		hand, err := p.build(ctx, &hands[i], i, t, players)
		if err == nil {
			err = p.store.CreateHand(ctx, hand)
		}
		if err != nil {
			res.FailedCount++
			res.Errors = append(res.Errors, fmt.Sprintf("hand %d: %v", i+1, err))
			p.logger.Error("persisting hand",
				"job_id", t.JobID, "segment_index", t.Segment.Index, "hand", i+1, "error", err)
			continue
		}
		res.SuccessCount++
		res.HandIDs = append(res.HandIDs, hand.ID)
	}

	p.metrics.HandsWritten(res.SuccessCount, res.FailedCount)
	return res
}

func (p *Persister) build(ctx context.Context, h *models.ExtractedHand, idx int, t Target, cache map[string]uuid.UUID) (*models.PersistedHand, error) {
	resolve := func(name string) (uuid.UUID, bool, error) {
		norm := poker.NormalizeName(name)
		if norm == "" {
			return uuid.Nil, false, nil
		}
		if id, ok := cache[norm]; ok {
			return id, true, nil
		}
		id, err := p.store.FindOrCreatePlayer(ctx, strings.TrimSpace(name), norm)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("resolve player %q: %w", name, err)
		}
		cache[norm] = id
		return id, true, nil
	}

	winners := make(map[string]models.Winner, len(h.Winners))
	for _, w := range h.Winners {
		if norm := poker.NormalizeName(w.Name); norm != "" {
			if _, dup := winners[norm]; !dup {
				winners[norm] = w
			}
		}
	}

	out := &models.PersistedHand{
		ID:          uuid.New(),
		StreamID:    t.StreamID,
		JobID:       t.JobID,
		Number:      displayNumber(h.HandNumber, t.StartingNumber, idx),
		Description: describe(h.Players),
		Timestamp:   displayTimestamp(h),
		Stakes:      h.Stakes,
		BoardFlop:   []string(h.Board.Flop),
		PotSize:     h.Pot,
		RawData:     *h,
		CreatedAt:   p.now().UTC(),
	}
	out.VideoTimestampStart, out.VideoTimestampEnd = videoRange(h, t.Segment)
	if h.Board.Turn != "" {
		turn := h.Board.Turn
		out.BoardTurn = &turn
	}
	if h.Board.River != "" {
		river := h.Board.River
		out.BoardRiver = &river
	}
	setBlinds(out, h)

	seen := make(map[uuid.UUID]bool)
	for _, pl := range h.Players {
		id, ok, err := resolve(pl.Name)
		if err != nil {
			return nil, err
		}
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		row := models.HandPlayerRow{
			PlayerID:      id,
			Position:      pl.Position,
			Seat:          pl.Seat,
			StartingStack: pl.StackSize,
			EndingStack:   pl.StackSize,
			HoleCards:     []string(pl.HoleCards),
		}
		if pl.StackEnd != nil {
			row.EndingStack = *pl.StackEnd
		}
		if w, won := winners[poker.NormalizeName(pl.Name)]; won {
			row.IsWinner = true
			row.FinalAmount = w.Amount
			row.HandDescription = w.Hand
		}
		out.Players = append(out.Players, row)
	}

	seq := 0
	for _, a := range h.Actions {
		id, ok, err := resolve(a.Player)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seq++
		out.Actions = append(out.Actions, models.HandActionRow{
			PlayerID:   id,
			Sequence:   seq,
			Street:     strings.ToLower(a.Street),
			ActionType: strings.ToLower(a.Action),
			Amount:     a.Amount,
		})
	}

	return out, nil
}

func displayNumber(n models.HandNumber, start, idx int) string {
	if s := strings.TrimSpace(string(n)); s != "" {
		return s
	}
	return strconv.Itoa(start + idx + 1)
}

// describe renders "name AsKh / name2 QdQc" for players with known cards.
func describe(players []models.HandPlayer) string {
	var parts []string
	for _, pl := range players {
		if pl.Name == "" || len(pl.HoleCards) == 0 {
			continue
		}
		parts = append(parts, pl.Name+" "+strings.Join(pl.HoleCards, ""))
	}
	return strings.Join(parts, " / ")
}

func displayTimestamp(h *models.ExtractedHand) string {
	if h.AbsoluteTimestampStart != nil {
		end := *h.AbsoluteTimestampStart
		if h.AbsoluteTimestampEnd != nil {
			end = *h.AbsoluteTimestampEnd
		}
		return clock(*h.AbsoluteTimestampStart) + " ~ " + clock(end)
	}
	if h.TimestampStart != "" {
		if h.TimestampEnd != "" {
			return h.TimestampStart + " ~ " + h.TimestampEnd
		}
		return h.TimestampStart
	}
	return "00:00"
}

func videoRange(h *models.ExtractedHand, seg models.Segment) (float64, float64) {
	start, end := seg.Start, seg.End
	if h.AbsoluteTimestampStart != nil {
		start = *h.AbsoluteTimestampStart
	}
	if h.AbsoluteTimestampEnd != nil {
		end = *h.AbsoluteTimestampEnd
	}
	return start, end
}

// clock formats seconds as HH:MM:SS.
func clock(secs float64) string {
	if secs < 0 {
		secs = 0
	}
	s := int(secs)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

func setBlinds(out *models.PersistedHand, h *models.ExtractedHand) {
	if h.Blinds != nil {
		sb, bb, ante := h.Blinds.SmallBlind, h.Blinds.BigBlind, h.Blinds.Ante
		out.SmallBlind, out.BigBlind, out.Ante = &sb, &bb, &ante
		return
	}
	b := poker.ParseStakes(h.Stakes)
	out.SmallBlind, out.BigBlind, out.Ante = b.SmallBlind, b.BigBlind, b.Ante
}
