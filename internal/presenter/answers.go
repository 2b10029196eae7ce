// Package presenter turns stored survey answers into labelled rows for the admin API.
package presenter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Empty is shown for missing values.
const Empty = "-"

// AnswerRow is one labelled answer.
type AnswerRow struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one labelled element of a contact-info answer.
type Part struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type pattern struct {
	match string
	label string
}

// Checked in order; the first substring match wins.
var fieldLabels = []pattern{
	{"contactinfo", "Contact Information"},
	{"projectdesc", "Project Description"},
	{"timeline", "Timeline"},
	{"projecttype", "Project Type"},
	{"budget", "Budget"},
	{"company", "Company"},
	{"email", "Email"},
	{"phone", "Phone"},
	{"name", "Name"},
	{"message", "Message"},
	{"feedback", "Feedback"},
	{"rating", "Rating"},
	{"comment", "Comment"},
	{"notes", "Notes"},
	{"requirements", "Requirements"},
	{"priority", "Priority"},
	{"deadline", "Deadline"},
	{"industry", "Industry"},
	{"size", "Size"},
	{"website", "Website"},
	{"referral", "Referral"},
	{"source", "Source"},
}

var valueLabels = []pattern{
	{"asap000000001", "ASAP"},
	{"asap", "ASAP"},
	{"months13aaaaa", "1-3 Months"},
	{"months36aaaaa", "3-6 Months"},
	{"months6plus", "6+ Months"},
	{"betriebseinr01", "Betriebseinrichtung"},
	{"webdesign", "Web Design"},
	{"development", "Development"},
	{"consulting", "Consulting"},
	{"support", "Support"},
	{"other", "Other"},
}

var contactPartLabels = []string{"First Name", "Last Name", "Email", "Phone", "Company"}

// FormatAnswers returns one row per answer, sorted by key.
func FormatAnswers(answers map[string]any) []AnswerRow {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]AnswerRow, 0, len(keys))
	for _, k := range keys {
		row := AnswerRow{Key: k, Label: FieldLabel(k)}
		row.Value, row.Parts = formatValue(k, answers[k])
		rows = append(rows, row)
	}
	return rows
}

// FieldLabel maps a Formbricks question key such as "contactinfo01ab" to a readable label.
func FieldLabel(key string) string {
	var clean strings.Builder
	for _, r := range key {
		if unicode.IsLetter(r) {
			clean.WriteRune(unicode.ToLower(r))
		}
	}
	for _, p := range fieldLabels {
		if strings.Contains(clean.String(), p.match) {
			return p.label
		}
	}
	return titleCase(strings.NewReplacer("_", " ", "-", " ").Replace(key))
}

// ValueLabel translates known option IDs; other values are returned as is.
func ValueLabel(value string) string {
	lower := strings.ToLower(value)
	for _, p := range valueLabels {
		if lower == p.match {
			return p.label
		}
	}
	for _, p := range valueLabels {
		if strings.Contains(lower, p.match) {
			return p.label
		}
	}
	return value
}

func formatValue(key string, v any) (string, []Part) {
	list, ok := v.([]any)
	if !ok {
		return formatSingle(v), nil
	}

	if strings.Contains(strings.ToLower(key), "contact") {
		var parts []Part
		var text []string
		for i, item := range list {
			s := scalar(item)
			if s == "" {
				continue
			}
			label := fmt.Sprintf("Field %d", i+1)
			if i < len(contactPartLabels) {
				label = contactPartLabels[i]
			}
			parts = append(parts, Part{Label: label, Value: s})
			text = append(text, label+": "+s)
		}
		if len(parts) == 0 {
			return Empty, nil
		}
		return strings.Join(text, "\n"), parts
	}

	var out []string
	for _, item := range list {
		if scalar(item) == "" {
			continue
		}
		out = append(out, formatSingle(item))
	}
	if len(out) == 0 {
		return Empty, nil
	}
	return strings.Join(out, ", "), nil
}

func formatSingle(v any) string {
	s := scalar(v)
	if s == "" {
		return Empty
	}
	return ValueLabel(s)
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
