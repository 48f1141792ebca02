// Package card encodes playing cards as rank+suit strings ("10H", "AS",
// "7♦") and decides rank matches between a dealt card and the opening card.
package card

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"

	"andarbahar_service/internal/apperr"
)

var ranks = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

var suitAliases = map[string]string{
	"H": "H", "♥": "H",
	"D": "D", "♦": "D",
	"C": "C", "♣": "C",
	"S": "S", "♠": "S",
}

// The rank is everything before the trailing suit, so "10" is one token.
var encoding = regexp.MustCompile(`^(10|[2-9AJQK])([HDCS♥♦♣♠])$`)

type Card struct {
	Rank string
	Suit string
}

// Parse accepts upper or lower case ranks/suits and the unicode suit symbols.
func Parse(s string) (Card, error) {
	m := encoding.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return Card{}, apperr.Validation(fmt.Sprintf("Invalid card %q", s))
	}
	return Card{Rank: m[1], Suit: suitAliases[m[2]]}, nil
}

func MustParse(s string) Card {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Rank strips the suit from an encoded card.
func Rank(s string) (string, error) {
	c, err := Parse(s)
	if err != nil {
		return "", err
	}
	return c.Rank, nil
}

func (c Card) String() string { return c.Rank + c.Suit }

func (c Card) IsZero() bool { return c.Rank == "" }

func (c Card) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Card) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Card) Value() (driver.Value, error) { return c.String(), nil }

func (c *Card) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case nil:
		*c = Card{}
		return nil
	default:
		return fmt.Errorf("card: cannot scan %T", src)
	}
}

// Deck returns the 52 cards suit by suit, ace to king within a suit.
func Deck() []Card {
	out := make([]Card, 0, 52)
	for _, s := range []string{"H", "D", "C", "S"} {
		for _, r := range ranks {
			out = append(out, Card{Rank: r, Suit: s})
		}
	}
	return out
}
