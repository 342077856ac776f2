// Package consistency checks extracted hands for structural and arithmetic
// mistakes. Findings are advisory and never block persistence.
package consistency

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/handhunter/internal/poker"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// Tolerance absorbs rounding drift in chip arithmetic.
const Tolerance = 0.1

// Input pairs a hand with the identifier errors should be reported under.
type Input struct {
	ID   string
	Hand models.ExtractedHand
}

// Validator runs the rule checks. It is safe for concurrent use.
type Validator struct {
	patterns []ActionPattern
}

// New returns a Validator using the built-in action patterns.
func New() (*Validator, error) {
	p, err := LoadPatterns(defaultPatterns)
	if err != nil {
		return nil, err
	}
	return &Validator{patterns: p}, nil
}

// NewWithPatterns returns a Validator using the given action patterns.
func NewWithPatterns(p []ActionPattern) *Validator {
	return &Validator{patterns: p}
}

// Analyze checks hands labelled by their hand number, or by position when
// a hand has none.
func (v *Validator) Analyze(hands []models.ExtractedHand) *models.ErrorReport {
	inputs := make([]Input, len(hands))
	for i, h := range hands {
		id := string(h.HandNumber)
		if id == "" {
			id = "#" + strconv.Itoa(i+1)
		}
		inputs[i] = Input{ID: id, Hand: h}
	}
	return v.AnalyzeLabeled(inputs)
}

// AnalyzeLabeled checks hands under caller-chosen identifiers.
func (v *Validator) AnalyzeLabeled(inputs []Input) *models.ErrorReport {
	var errs []models.HandError
	for _, in := range inputs {
		errs = append(errs, v.CheckHand(in.ID, in.Hand)...)
	}
	return buildReport(inputs, errs)
}

// CheckHand runs every rule against a single hand.
func (v *Validator) CheckHand(id string, h models.ExtractedHand) []models.HandError {
	var errs []models.HandError
	errs = append(errs, checkDuplicateCards(id, h)...)
	errs = append(errs, checkPotConsistency(id, h)...)
	errs = append(errs, checkStackConsistency(id, h)...)
	errs = append(errs, v.checkActionOrder(id, h)...)
	errs = append(errs, checkCardValidity(id, h)...)
	return errs
}

func checkDuplicateCards(id string, h models.ExtractedHand) []models.HandError {
	var cards []string
	for _, p := range h.Players {
		for _, c := range p.HoleCards {
			if c != "" {
				cards = append(cards, c)
			}
		}
	}
	cards = append(cards, h.Board.Cards()...)

	counts := make(map[string]int, len(cards))
	var order []string
	for _, c := range cards {
		if counts[c] == 0 {
			order = append(order, c)
		}
		counts[c]++
	}

	var errs []models.HandError
	for _, c := range order {
		if counts[c] < 2 {
			continue
		}
		errs = append(errs, models.HandError{
			Type:           models.ErrorTypeDuplicateCard,
			HandID:         id,
			Message:        fmt.Sprintf("Card %s appears %d times", c, counts[c]),
			Severity:       models.SeverityCritical,
			SuggestedFix:   fmt.Sprintf("Review card recognition for %s in hand %s", c, id),
			AffectedFields: []string{"players.*.holeCards", "board"},
		})
	}
	return errs
}

func blindsFor(h models.ExtractedHand) (sb, bb, ante float64) {
	if h.Blinds != nil {
		return h.Blinds.SmallBlind, h.Blinds.BigBlind, h.Blinds.Ante
	}
	parsed := poker.ParseStakes(h.Stakes)
	if parsed.SmallBlind != nil {
		sb = *parsed.SmallBlind
	}
	if parsed.BigBlind != nil {
		bb = *parsed.BigBlind
	}
	if parsed.Ante != nil {
		ante = *parsed.Ante
	}
	return sb, bb, ante
}

func streetTotal(h models.ExtractedHand, street string) float64 {
	var sum float64
	for _, a := range h.Actions {
		if strings.EqualFold(a.Street, street) {
			sum += a.Amount
		}
	}
	return sum
}

func checkPotConsistency(id string, h models.ExtractedHand) []models.HandError {
	sb, bb, ante := blindsFor(h)
	preflop := sb + bb + ante*float64(len(h.Players)) + streetTotal(h, models.StreetPreflop)

	type step struct {
		street   string
		prev     string
		recorded *float64
		expected float64
		ok       bool
	}
	sp := h.StreetPots
	steps := []step{
		{street: models.StreetFlop, prev: models.StreetPreflop, recorded: sp.Flop, expected: preflop, ok: sp.Flop != nil},
	}
	if sp.Flop != nil {
		steps = append(steps, step{
			street: models.StreetTurn, prev: models.StreetFlop, recorded: sp.Turn,
			expected: *sp.Flop + streetTotal(h, models.StreetFlop), ok: sp.Turn != nil,
		})
	}
	if sp.Turn != nil {
		steps = append(steps, step{
			street: models.StreetRiver, prev: models.StreetTurn, recorded: sp.River,
			expected: *sp.Turn + streetTotal(h, models.StreetTurn), ok: sp.River != nil,
		})
	}

	var errs []models.HandError
	for _, s := range steps {
		if !s.ok {
			continue
		}
		if math.Abs(*s.recorded-s.expected) <= Tolerance {
			continue
		}
		errs = append(errs, models.HandError{
			Type:   models.ErrorTypePotInconsistency,
			HandID: id,
			Message: fmt.Sprintf("%s pot (%s) != %s total (%s)",
				capitalize(s.street), formatChips(*s.recorded), capitalize(s.prev), formatChips(s.expected)),
			Severity:       models.SeverityHigh,
			SuggestedFix:   "Re-check the pot size shown at the start of the " + s.street,
			AffectedFields: []string{"streetPots." + s.street, "actions." + s.prev},
		})
	}
	return errs
}

func checkStackConsistency(id string, h models.ExtractedHand) []models.HandError {
	sb, bb, ante := blindsFor(h)

	committed := make(map[string]float64, len(h.Players))
	for _, p := range h.Players {
		key := poker.NormalizeName(p.Name)
		committed[key] += ante
		switch strings.ToUpper(p.Position) {
		case "SB":
			committed[key] += sb
		case "BB":
			committed[key] += bb
		}
	}
	for _, a := range h.Actions {
		committed[poker.NormalizeName(a.Player)] += a.Amount
	}

	var winner string
	if len(h.Winners) > 0 {
		winner = poker.NormalizeName(h.Winners[0].Name)
	}

	var errs []models.HandError
	for i, p := range h.Players {
		if p.StackEnd == nil {
			continue
		}
		key := poker.NormalizeName(p.Name)
		expected := p.StackSize - committed[key]
		if winner != "" && key == winner {
			expected += h.Pot
		}
		diff := math.Abs(*p.StackEnd - expected)
		if diff <= Tolerance {
			continue
		}
		errs = append(errs, models.HandError{
			Type:   models.ErrorTypeStackMismatch,
			HandID: id,
			Message: fmt.Sprintf("%s: expected stack %s, got %s (diff: %s)",
				p.Name, formatChips(expected), formatChips(*p.StackEnd), formatChips(diff)),
			Severity:     models.SeverityMedium,
			SuggestedFix: "Verify bet amounts and pot calculation",
			AffectedFields: []string{
				fmt.Sprintf("players[%d].stackSize", i),
				fmt.Sprintf("players[%d].stackEnd", i),
			},
		})
	}
	return errs
}

var streetRank = map[string]int{
	models.StreetPreflop: 0,
	models.StreetFlop:    1,
	models.StreetTurn:    2,
	models.StreetRiver:   3,
}

func (v *Validator) checkActionOrder(id string, h models.ExtractedHand) []models.HandError {
	if len(v.patterns) == 0 {
		return nil
	}

	actions := make([]models.HandAction, len(h.Actions))
	copy(actions, h.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return streetRank[strings.ToLower(actions[i].Street)] < streetRank[strings.ToLower(actions[j].Street)]
	})

	byPlayer := make(map[string][]string)
	names := make(map[string]string)
	var order []string
	for _, a := range actions {
		key := poker.NormalizeName(a.Player)
		if key == "" {
			continue
		}
		if _, seen := byPlayer[key]; !seen {
			order = append(order, key)
			names[key] = a.Player
		}
		byPlayer[key] = append(byPlayer[key], NormalizeAction(a.Action))
	}

	var errs []models.HandError
	for _, key := range order {
		seq := byPlayer[key]
		for i := 0; i+1 < len(seq); i++ {
			for _, p := range v.patterns {
				if p.Invalid[0] != seq[i] || p.Invalid[1] != seq[i+1] {
					continue
				}
				errs = append(errs, models.HandError{
					Type:           models.ErrorTypeInvalidActionOrder,
					HandID:         id,
					Message:        fmt.Sprintf("%s: invalid sequence %s -> %s. %s", names[key], seq[i], seq[i+1], p.Reason),
					Severity:       models.SeverityHigh,
					SuggestedFix:   p.SuggestedFix,
					AffectedFields: []string{"actions"},
				})
			}
		}
	}
	return errs
}

func checkCardValidity(id string, h models.ExtractedHand) []models.HandError {
	var errs []models.HandError
	check := func(card, field string) {
		problem := poker.CardProblem(card)
		if problem == "" {
			return
		}
		errs = append(errs, models.HandError{
			Type:           models.ErrorTypeInvalidCard,
			HandID:         id,
			Message:        fmt.Sprintf("Invalid card %q: %s", card, problem),
			Severity:       models.SeverityCritical,
			SuggestedFix:   "Cards are a rank (2-9, T, J, Q, K, A) followed by a suit (s, h, d, c)",
			AffectedFields: []string{field},
		})
	}

	for i, p := range h.Players {
		for j, c := range p.HoleCards {
			if c != "" {
				check(c, fmt.Sprintf("players[%d].holeCards[%d]", i, j))
			}
		}
	}
	for i, c := range h.Board.Flop {
		if c != "" {
			check(c, fmt.Sprintf("board.flop[%d]", i))
		}
	}
	if h.Board.Turn != "" {
		check(h.Board.Turn, "board.turn")
	}
	if h.Board.River != "" {
		check(h.Board.River, "board.river")
	}
	return errs
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatChips(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
