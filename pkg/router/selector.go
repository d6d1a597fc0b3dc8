package router

// Rule is one row of the selection table.
type Rule struct {
	Number      int
	Description string
	Backend     Backend
	match       func(difficulty int, cat Category, exp Expertise, coding bool) bool
}

// Rules is evaluated top to bottom and the first match wins. Order matters:
// a coding question of difficulty 65 must stop at rule 1, not rule 4.
var Rules = []Rule{
	{1, "coding-related", Frontier, func(d int, c Category, e Expertise, coding bool) bool {
		return coding
	}},
	{2, "difficulty < 15, FACTUAL, GENERAL", Fast, func(d int, c Category, e Expertise, coding bool) bool {
		return d < 15 && c == Factual && e == General
	}},
	{3, "difficulty < 30, FACTUAL or ANALYTICAL, not EXPERT", Economy, func(d int, c Category, e Expertise, coding bool) bool {
		return d < 30 && (c == Factual || c == Analytical) && e != Expert
	}},
	{4, "difficulty > 59", Frontier, func(d int, c Category, e Expertise, coding bool) bool {
		return d > 59
	}},
	{5, "difficulty < 50, or ANALYTICAL and SPECIALIZED", Balanced, func(d int, c Category, e Expertise, coding bool) bool {
		return d < 50 || (c == Analytical && e == Specialized)
	}},
	{6, "CREATIVE or EXPERT", Frontier, func(d int, c Category, e Expertise, coding bool) bool {
		return c == Creative || e == Expert
	}},
	{7, "otherwise", Balanced, func(d int, c Category, e Expertise, coding bool) bool {
		return true
	}},
}

// SelectBackend maps a sub-question profile to a tier.
func SelectBackend(difficulty int, cat Category, exp Expertise, coding bool) Backend {
	b, _ := Explain(difficulty, cat, exp, coding)
	return b
}

// Explain is SelectBackend plus the number of the rule that matched.
func Explain(difficulty int, cat Category, exp Expertise, coding bool) (Backend, int) {
	for _, r := range Rules {
		if r.match(difficulty, cat, exp, coding) {
			return r.Backend, r.Number
		}
	}
	// Unreachable: the last rule always matches.
	return Balanced, len(Rules)
}
