package card

// Matches reports whether dealt has the opening card's rank. Suits are ignored.
func Matches(dealt, opening Card) bool {
	return !dealt.IsZero() && dealt.Rank == opening.Rank
}

// MatchesEncoded is Matches over encoded cards.
func MatchesEncoded(dealt, opening string) (bool, error) {
	d, err := Parse(dealt)
	if err != nil {
		return false, err
	}
	o, err := Parse(opening)
	if err != nil {
		return false, err
	}
	return Matches(d, o), nil
}
