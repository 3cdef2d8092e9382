package engagement

// Scores maps an emoji to the score it adds to its target. Emojis missing
// from the table score +1; no reaction scores 0.
type Scores map[string]int64

func DefaultScores() Scores {
	return Scores{
		"👍": 1,
		"👎": -1,
		"❤️": 2,
		"🔥": 2,
		"🎉": 1,
		"😂": 1,
		"😕": -1,
	}
}

func (s Scores) Of(emoji string) int64 {
	if emoji == "" {
		return 0
	}
	if v, ok := s[emoji]; ok {
		return v
	}
	return 1
}

// Merge returns a copy of s overridden by o.
func (s Scores) Merge(o Scores) Scores {
	out := make(Scores, len(s)+len(o))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}
