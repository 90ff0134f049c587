package quality

import (
	"math"
	"strings"
)

const minUsefulLength = 20

var refusalMarkers = []string{
	"i cannot",
	"i can't",
	"i am unable",
	"i'm unable",
	"as an ai",
	"i'm sorry, but",
}

// Assessment is a heuristic 0..1 score for one backend result plus the
// penalties that lowered it.
type Assessment struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score rates output produced for input. Empty output scores zero.
func (s *Scorer) Score(input, output string) Assessment {
	content := normalizeText(output)
	if content == "" {
		return Assessment{Score: 0, Issues: []string{"empty_output"}}
	}

	penalty := 0.0
	issues := make([]string, 0, 4)

	if len(content) < minUsefulLength {
		penalty += 0.30
		issues = append(issues, "too_short")
	}

	lowered := strings.ToLower(content)
	for _, marker := range refusalMarkers {
		if strings.Contains(lowered, marker) {
			penalty += 0.40
			issues = append(issues, "refusal")
			break
		}
	}

	if strings.Count(output, "```")%2 != 0 {
		penalty += 0.10
		issues = append(issues, "unbalanced_code_fence")
	}

	if repeatedLineRatio(output) > 0.3 {
		penalty += 0.15
		issues = append(issues, "repetitive")
	}

	if echoed := normalizeText(input); echoed != "" && strings.EqualFold(echoed, content) {
		penalty += 0.30
		issues = append(issues, "echoes_input")
	}

	if !hasTerminalPunctuation(content) && !strings.HasSuffix(content, "}") && !strings.HasSuffix(content, "```") {
		penalty += 0.05
		issues = append(issues, "truncated")
	}

	return Assessment{Score: round2(clamp01(1.0 - penalty)), Issues: issues}
}

func repeatedLineRatio(value string) float64 {
	lines := strings.Split(value, "\n")
	total := 0
	seen := make(map[string]struct{}, len(lines))
	repeated := 0
	for _, line := range lines {
		key := strings.ToLower(normalizeText(line))
		if key == "" {
			continue
		}
		total++
		if _, exists := seen[key]; exists {
			repeated++
			continue
		}
		seen[key] = struct{}{}
	}
	if total < 3 {
		return 0
	}
	return float64(repeated) / float64(total)
}

func normalizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return strings.Join(strings.Fields(trimmed), " ")
}

func hasTerminalPunctuation(value string) bool {
	if value == "" {
		return false
	}
	last := value[len(value)-1]
	return last == '.' || last == '!' || last == '?'
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
