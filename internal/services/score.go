package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

var urgencyKeywords = []string{"urgent", "asap", "immediately", "soon", "quickly"}

// ScoreLead rates survey answers: contact details, company, budget and timeline each add points,
// and any urgency keyword in the answers adds 10 once.
func ScoreLead(answers map[string]any) int {
	score := 0
	if present(answers, "email") {
		score += 10
	}
	if present(answers, "phone", "phoneNumber") {
		score += 10
	}
	if present(answers, "company", "companyName") {
		score += 15
	}
	if present(answers, "budget", "projectBudget") {
		score += 20
	}
	if present(answers, "timeline", "projectTimeline") {
		score += 15
	}

	raw, err := json.Marshal(answers)
	if err != nil {
		raw = []byte(fmt.Sprint(answers))
	}
	text := strings.ToLower(string(raw))
	for _, kw := range urgencyKeywords {
		if strings.Contains(text, kw) {
			score += 10
			break
		}
	}
	return score
}

func present(answers map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := answers[k].(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return true
			}
		case bool:
			if v {
				return true
			}
		case float64:
			if v != 0 {
				return true
			}
		case []any:
			if len(v) > 0 {
				return true
			}
		case map[string]any:
			if len(v) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
