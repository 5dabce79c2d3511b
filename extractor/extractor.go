// Package extractor parses the NDJSON activity log of the most recent
// Worker run and selects the "best" candidate line as the result, with
// leading/trailing context for the Auditor prompt.
package extractor

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/justapithecus/oneshot/pipeline"
	"github.com/justapithecus/oneshot/task"
)

// Additive score weights. Completion markers score up, help requests
// score down.
const (
	weightDoneKeyword        = 15
	weightStatusKeyword      = 10
	weightSuccessKeyword     = 10
	weightJSONStructure      = 5
	weightJSONValid          = 5
	weightSubstantialLength  = 3
	weightStatusField        = 8
	weightResultField        = 5
	weightHumanKeyword       = -10
	weightInterventionKeyword = -10
)

// ExtractResult reads the NDJSON activity log at logPath and returns the
// best-scoring candidate with its surrounding context. Returns a nil
// summary (not an error) if the file is missing or contains no usable
// events.
func ExtractResult(logPath string) (*task.ResultSummary, error) {
	events, err := readEvents(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	type candidate struct {
		score int
		index int
		text  string
	}

	var candidates []candidate
	for i, ev := range events {
		text := formatEvent(ev)
		if text == "" {
			continue
		}
		if score := scoreText(text); score > 0 {
			candidates = append(candidates, candidate{score: score, index: i, text: text})
		}
	}

	var bestIdx, bestScore int
	var bestText string
	if len(candidates) == 0 {
		bestIdx = len(events) - 1
		bestText = formatEvent(events[bestIdx])
		bestScore = scoreText(bestText)
	} else {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.score > best.score || (c.score == best.score && c.index > best.index) {
				best = c
			}
		}
		bestIdx, bestScore, bestText = best.index, best.score, best.text
	}

	if bestText == "" {
		return nil, nil
	}

	var leading []string
	for i := max(0, bestIdx-2); i < bestIdx; i++ {
		if text := formatEvent(events[i]); text != "" {
			leading = append(leading, text)
		}
	}

	var trailing []string
	for i := bestIdx + 1; i < min(len(events), bestIdx+3); i++ {
		if text := formatEvent(events[i]); text != "" {
			trailing = append(trailing, text)
		}
	}

	return &task.ResultSummary{
		Result:         bestText,
		LeadingContext: leading,
		TrailingContext: trailing,
		Score:          bestScore,
	}, nil
}

func readEvents(logPath string) ([]map[string]any, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// outputFields is the ordered list of keys checked for a usable text
// payload; first hit wins.
var outputFields = []string{"output", "stdout", "text", "content", "message", "data"}

// formatEvent formats one parsed event into a text candidate, or ""
// if the event has nothing usable.
func formatEvent(event map[string]any) string {
	for _, field := range outputFields {
		if v, ok := event[field]; ok && v != nil && v != "" {
			return stringify(v)
		}
	}
	if len(event) == 0 {
		return ""
	}
	body, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return ""
	}
	return string(body)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		body, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(body)
	}
}

// scoreText scores a candidate by the additive fuzzy heuristic.
func scoreText(text string) int {
	if text == "" {
		return 0
	}

	score := 0
	upper := strings.ToUpper(text)

	if strings.Contains(upper, "DONE") {
		score += weightDoneKeyword
	}
	if strings.Contains(upper, "STATUS") {
		score += weightStatusKeyword
	}
	if strings.Contains(upper, "SUCCESS") {
		score += weightSuccessKeyword
	}
	if strings.Contains(upper, "HUMAN") {
		score += weightHumanKeyword
	}
	if strings.Contains(upper, "INTERVENTION") {
		score += weightInterventionKeyword
	}

	if strings.Contains(text, "{") && strings.Contains(text, "}") {
		score += weightJSONStructure
		if _, ok := pipeline.ExtractJSONObject(text); ok {
			score += weightJSONValid
		}
	}

	if strings.Contains(text, `"status"`) || strings.Contains(text, `'status'`) {
		score += weightStatusField
	}
	if strings.Contains(text, `"result"`) || strings.Contains(text, `'result'`) {
		score += weightResultField
	}

	if len(text) > 100 {
		score += weightSubstantialLength
	}

	return score
}
