package pattern

import (
	"fmt"
	"regexp/syntax"
)

// CheckSafety rejects patterns whose structure invites catastrophic cost:
// an unbounded `.*`/`.+` directly adjacent to an alternation group with two
// or more branches. The check runs at load time so an unsafe pattern can
// never enter a published snapshot, whether it comes from the builtin
// library or from a policy file.
func CheckSafety(expr string) error {
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	if node := findGreedyAlternation(re); node != nil {
		return fmt.Errorf("unsafe regex %q: unbounded wildcard adjacent to alternation (%s)",
			expr, node)
	}
	return nil
}

// findGreedyAlternation walks the parse tree looking for a concat in which a
// star/plus over any-char sits next to an alternation of size >= 2.
func findGreedyAlternation(re *syntax.Regexp) *syntax.Regexp {
	if re == nil {
		return nil
	}

	if re.Op == syntax.OpConcat {
		for i, sub := range re.Sub {
			if !isUnboundedWildcard(sub) {
				continue
			}
			if i > 0 && isWideAlternation(re.Sub[i-1]) {
				return re.Sub[i-1]
			}
			if i+1 < len(re.Sub) && isWideAlternation(re.Sub[i+1]) {
				return re.Sub[i+1]
			}
		}
	}

	for _, sub := range re.Sub {
		if node := findGreedyAlternation(sub); node != nil {
			return node
		}
	}
	return nil
}

// isUnboundedWildcard reports whether the node is `.*` or `.+` (any-char
// under an unbounded repeat).
func isUnboundedWildcard(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
	case syntax.OpRepeat:
		if re.Max >= 0 {
			return false
		}
	default:
		return false
	}
	if len(re.Sub) != 1 {
		return false
	}
	op := re.Sub[0].Op
	return op == syntax.OpAnyChar || op == syntax.OpAnyCharNotNL
}

// isWideAlternation reports whether the node is an alternation with at least
// two branches, looking through capture groups.
func isWideAlternation(re *syntax.Regexp) bool {
	for re.Op == syntax.OpCapture && len(re.Sub) == 1 {
		re = re.Sub[0]
	}
	return re.Op == syntax.OpAlternate && len(re.Sub) >= 2
}
