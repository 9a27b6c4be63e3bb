package appcontext

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/platform"
)

type observation struct {
	name    string
	process string
	bundle  string
	title   string
}

func newObservation(info platform.WindowInfo) observation {
	return observation{
		name:    normalize(info.AppName),
		process: strings.TrimSuffix(normalize(info.ProcessName), ".exe"),
		bundle:  normalize(info.BundleID),
		title:   normalize(info.WindowTitle),
	}
}

type scored struct {
	mapping   Mapping
	total     int
	strongest int
	direct    bool
}

func (s *scored) add(weight int) {
	s.total += weight
	if weight > s.strongest {
		s.strongest = weight
	}
}

// score sums the independent signals of one table row against an observation. The title bonus
// only applies to rows that matched on something else.
func score(m Mapping, obs observation) scored {
	s := scored{mapping: m}

	if obs.bundle != "" && anyEqual(m.BundleIDs, obs.bundle) {
		s.add(WeightBundle)
		s.direct = true
	}
	if obs.name != "" && (anyEqual(m.Names, obs.name) || normalize(m.DisplayName) == obs.name) {
		s.add(WeightName)
		s.direct = true
	}
	if anyEqual(m.Aliases, obs.name) || anyEqual(m.Aliases, obs.process) {
		s.add(WeightAlias)
		s.direct = true
	}
	if obs.process != "" && anyContained(m.Processes, obs.process) {
		s.add(WeightProcess)
	}
	if partialName(m, obs.name) {
		s.add(WeightPartial)
	}
	if s.total > 0 && titleBonus(m.Context, obs.title) {
		s.add(WeightTitleBonus)
	}
	return s
}

func partialName(m Mapping, observed string) bool {
	if len(observed) < minPartialLen {
		return false
	}
	candidates := append([]string{m.DisplayName}, m.Names...)
	for _, c := range candidates {
		c = normalize(c)
		if len(c) < minPartialLen || c == observed {
			continue
		}
		if containsWord(observed, c) || containsWord(c, observed) {
			return true
		}
	}
	return false
}

var (
	emailTitleHints  = []string{"inbox", "compose", "new message", "re:", "fwd:", "mail", "@"}
	codeTitlePattern = regexp.MustCompile(`\.(go|py|ts|tsx|js|jsx|rs|java|kt|swift|c|cc|cpp|h|hpp|rb|php|cs|sql|sh|ya?ml|toml|json)\b|\bgit\b|pull request|\bdiff\b`)
)

func titleBonus(ctx domain.ContextType, title string) bool {
	if title == "" {
		return false
	}
	switch ctx {
	case domain.ContextEmail:
		for _, hint := range emailTitleHints {
			if strings.Contains(title, hint) {
				return true
			}
		}
	case domain.ContextCodeEditor:
		return codeTitlePattern.MatchString(title)
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func anyEqual(values []string, observed string) bool {
	if observed == "" {
		return false
	}
	for _, v := range values {
		if normalize(v) == observed {
			return true
		}
	}
	return false
}

func anyContained(values []string, observed string) bool {
	for _, v := range values {
		if v = normalize(v); v != "" && strings.Contains(observed, v) {
			return true
		}
	}
	return false
}

// containsWord reports whether needle occurs in haystack bounded by non-alphanumerics.
func containsWord(haystack, needle string) bool {
	for start := 0; ; {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		if boundaryBefore(haystack, idx) && boundaryAfter(haystack, end) {
			return true
		}
		start = idx + 1
		if start >= len(haystack) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
