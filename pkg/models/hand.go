package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Streets in betting order.
const (
	StreetPreflop = "preflop"
	StreetFlop    = "flop"
	StreetTurn    = "turn"
	StreetRiver   = "river"
)

// ExtractedHand is one hand as returned by the analyzer service.
type ExtractedHand struct {
	HandNumber HandNumber   `json:"handNumber"`
	Stakes     string       `json:"stakes,omitempty"`
	Pot        float64      `json:"pot"`
	Blinds     *Blinds      `json:"blinds,omitempty"`
	Board      Board        `json:"board"`
	StreetPots StreetPots   `json:"streetPots,omitempty"`
	Players    []HandPlayer `json:"players"`
	Actions    []HandAction `json:"actions"`
	Winners    []Winner     `json:"winners"`
	Confidence *float64     `json:"confidence,omitempty"`

	TimestampStart         string   `json:"timestamp_start,omitempty"`
	TimestampEnd           string   `json:"timestamp_end,omitempty"`
	AbsoluteTimestampStart *float64 `json:"absolute_timestamp_start,omitempty"`
	AbsoluteTimestampEnd   *float64 `json:"absolute_timestamp_end,omitempty"`
}

// Blinds carries the forced bets of a hand.
type Blinds struct {
	SmallBlind float64 `json:"sb"`
	BigBlind   float64 `json:"bb"`
	Ante       float64 `json:"ante"`
}

// Board holds the community cards. Turn and River are single cards.
type Board struct {
	Flop  Cards  `json:"flop"`
	Turn  string `json:"turn,omitempty"`
	River string `json:"river,omitempty"`
}

// Cards returns every non-empty board card in dealing order.
func (b Board) Cards() []string {
	cards := make([]string, 0, 5)
	for _, c := range b.Flop {
		if c != "" {
			cards = append(cards, c)
		}
	}
	if b.Turn != "" {
		cards = append(cards, b.Turn)
	}
	if b.River != "" {
		cards = append(cards, b.River)
	}
	return cards
}

// StreetPots records the pot size at the start of each postflop street.
// A nil entry means the street was not reached or not read.
type StreetPots struct {
	Flop  *float64 `json:"flop,omitempty"`
	Turn  *float64 `json:"turn,omitempty"`
	River *float64 `json:"river,omitempty"`
}

type HandPlayer struct {
	Name      string   `json:"name"`
	Position  string   `json:"position,omitempty"`
	Seat      int      `json:"seat,omitempty"`
	StackSize float64  `json:"stackSize"`
	StackEnd  *float64 `json:"stackEnd,omitempty"`
	HoleCards Cards    `json:"holeCards,omitempty"`
}

type HandAction struct {
	Player string  `json:"player"`
	Street string  `json:"street"`
	Action string  `json:"action"`
	Amount float64 `json:"amount"`
}

type Winner struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Hand   string  `json:"hand,omitempty"`
}

// HandNumber accepts either a JSON string or a JSON number.
type HandNumber string

func (n *HandNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = HandNumber(strings.TrimSpace(s))
		return nil
	}
	var f json.Number
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("hand number: %w", err)
	}
	*n = HandNumber(f.String())
	return nil
}

// Int returns the numeric value of the hand number, or 0 if it has none.
func (n HandNumber) Int() int {
	i, err := strconv.Atoi(string(n))
	if err != nil {
		return 0
	}
	return i
}

// Cards accepts either a JSON array of card strings or a single string
// such as "As Kh" or "As,Kh".
type Cards []string

func (c *Cards) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cards(strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == ',' || r == '\t'
		}))
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("cards: %w", err)
	}
	*c = Cards(arr)
	return nil
}

// PersistedHand is the stored form of an ExtractedHand, written atomically
// together with its players and actions.
type PersistedHand struct {
	ID                  uuid.UUID       `json:"id"`
	StreamID            uuid.UUID       `json:"stream_id"`
	JobID               uuid.UUID       `json:"job_id"`
	Number              string          `json:"number"`
	Description         string          `json:"description"`
	Timestamp           string          `json:"timestamp"`
	VideoTimestampStart float64         `json:"video_timestamp_start"`
	VideoTimestampEnd   float64         `json:"video_timestamp_end"`
	Stakes              string          `json:"stakes"`
	SmallBlind          *float64        `json:"small_blind,omitempty"`
	BigBlind            *float64        `json:"big_blind,omitempty"`
	Ante                *float64        `json:"ante,omitempty"`
	BoardFlop           []string        `json:"board_flop"`
	BoardTurn           *string         `json:"board_turn,omitempty"`
	BoardRiver          *string         `json:"board_river,omitempty"`
	PotSize             float64         `json:"pot_size"`
	RawData             ExtractedHand   `json:"raw_data"`
	Players             []HandPlayerRow `json:"players"`
	Actions             []HandActionRow `json:"actions"`
	CreatedAt           time.Time       `json:"created_at"`
}

// HandPlayerRow links a resolved player identity to a hand.
type HandPlayerRow struct {
	PlayerID        uuid.UUID `json:"player_id"`
	Position        string    `json:"position"`
	Seat            int       `json:"seat"`
	StartingStack   float64   `json:"starting_stack"`
	EndingStack     float64   `json:"ending_stack"`
	HoleCards       []string  `json:"hole_cards,omitempty"`
	IsWinner        bool      `json:"is_winner"`
	FinalAmount     float64   `json:"final_amount"`
	HandDescription string    `json:"hand_description,omitempty"`
}

// HandActionRow is one action in hand order. Sequence starts at 1.
type HandActionRow struct {
	PlayerID   uuid.UUID `json:"player_id"`
	Sequence   int       `json:"sequence"`
	Street     string    `json:"street"`
	ActionType string    `json:"action_type"`
	Amount     float64   `json:"amount"`
}
