package election

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"classvote.org/internal/apperr"
)

var (
	ErrCandidateNotFound     = apperr.New(apperr.KindNotFound, "candidate_not_found", "candidate not found")
	ErrCandidacyWindowClosed = apperr.New(apperr.KindState, "candidacy_window_closed", "candidates cannot be changed after the election ended")
	ErrCandidacyLocked       = apperr.New(apperr.KindState, "candidacy_locked", "candidates can only be removed from pending elections")
	ErrInvalidStudent        = apperr.New(apperr.KindValidation, "invalid_student", "candidate must be an active student of the election's class")
	ErrDuplicateCandidacy    = apperr.New(apperr.KindConflict, "duplicate_candidacy", "student is already a candidate in this election")
	ErrInvalidSymbol         = apperr.New(apperr.KindValidation, "invalid_symbol", "unknown candidate symbol")
	ErrInvalidColor          = apperr.New(apperr.KindValidation, "invalid_color", "color must look like #RRGGBB")
)

// Symbol is the ballot icon of a candidate.
type Symbol string

const (
	SymbolStar      Symbol = "star"
	SymbolSun       Symbol = "sun"
	SymbolMoon      Symbol = "moon"
	SymbolTree      Symbol = "tree"
	SymbolFlower    Symbol = "flower"
	SymbolBook      Symbol = "book"
	SymbolPen       Symbol = "pen"
	SymbolLamp      Symbol = "lamp"
	SymbolKey       Symbol = "key"
	SymbolBell      Symbol = "bell"
	SymbolAnchor    Symbol = "anchor"
	SymbolRocket    Symbol = "rocket"
	SymbolGlobe     Symbol = "globe"
	SymbolHeart     Symbol = "heart"
	SymbolLeaf      Symbol = "leaf"
	SymbolCrown     Symbol = "crown"
	SymbolShield    Symbol = "shield"
	SymbolFlag      Symbol = "flag"
	SymbolTrophy    Symbol = "trophy"
	SymbolLion      Symbol = "lion"
	SymbolEagle     Symbol = "eagle"
	SymbolBicycle   Symbol = "bicycle"
	SymbolUmbrella  Symbol = "umbrella"
	SymbolCamera    Symbol = "camera"
	SymbolClock     Symbol = "clock"
	SymbolDiamond   Symbol = "diamond"
	SymbolFire      Symbol = "fire"
	SymbolMusic     Symbol = "music"
	SymbolLightbulb Symbol = "lightbulb"
	SymbolCompass   Symbol = "compass"
)

// Symbols lists every ballot icon in display order.
var Symbols = []Symbol{
	SymbolStar, SymbolSun, SymbolMoon, SymbolTree, SymbolFlower, SymbolBook,
	SymbolPen, SymbolLamp, SymbolKey, SymbolBell, SymbolAnchor, SymbolRocket,
	SymbolGlobe, SymbolHeart, SymbolLeaf, SymbolCrown, SymbolShield, SymbolFlag,
	SymbolTrophy, SymbolLion, SymbolEagle, SymbolBicycle, SymbolUmbrella, SymbolCamera,
	SymbolClock, SymbolDiamond, SymbolFire, SymbolMusic, SymbolLightbulb, SymbolCompass,
}

// ParseSymbol validates a symbol name.
func ParseSymbol(s string) (Symbol, error) {
	want := Symbol(strings.ToLower(strings.TrimSpace(s)))
	for _, sym := range Symbols {
		if sym == want {
			return sym, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ParseColor validates and upper-cases a #RRGGBB color.
func ParseColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !colorPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return strings.ToUpper(s), nil
}

// Candidate is a student standing in one election.
type Candidate struct {
	ID         string    `json:"id"`
	ElectionID string    `json:"election_id"`
	StudentID  string    `json:"student_id"`
	Name       string    `json:"name,omitempty"`
	Symbol     Symbol    `json:"symbol"`
	Color      string    `json:"color"`
	Approved   bool      `json:"approved"`
	Active     bool      `json:"active"`
	Manifesto  string    `json:"manifesto,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Eligible reports whether votes for c are accepted.
func (c Candidate) Eligible() bool { return c.Approved && c.Active }

// AddCandidateInput nominates a student.
type AddCandidateInput struct {
	StudentID string `json:"student_id"`
	Symbol    string `json:"symbol"`
	Color     string `json:"color"`
	Manifesto string `json:"manifesto"`
}

// UpdateCandidateInput carries optional candidate changes.
type UpdateCandidateInput struct {
	Symbol    *string `json:"symbol"`
	Color     *string `json:"color"`
	Manifesto *string `json:"manifesto"`
	Approved  *bool   `json:"approved"`
	Active    *bool   `json:"active"`
}
