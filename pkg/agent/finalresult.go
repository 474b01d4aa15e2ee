package agent

import (
	"encoding/json"
	"regexp"
)

// Final-Result protocol markers. Skill scripts print a block like
//
//	<<<FINAL_RESULT>>>
//	{"answer": "B", "reasoning": "..."}
//	<<<END_FINAL_RESULT>>>
//
// inside their stdout to end the run with structured output.
const (
	FinalResultStart = "<<<FINAL_RESULT>>>"
	FinalResultEnd   = "<<<END_FINAL_RESULT>>>"
)

var finalResultPattern = regexp.MustCompile(`(?s)<<<FINAL_RESULT>>>\s*(.*?)\s*<<<END_FINAL_RESULT>>>`)

// FinalOutcome tags how a Final-Result payload was interpreted
type FinalOutcome int

const (
	// OutcomeNone means no markers were present
	OutcomeNone FinalOutcome = iota
	// OutcomeParsed means the payload was a well-formed JSON object
	OutcomeParsed
	// OutcomeRaw means the payload did not parse and was wrapped as {"raw": ...}
	OutcomeRaw
	// OutcomeEmpty means markers were present with nothing between them
	OutcomeEmpty
)

func (o FinalOutcome) String() string {
	switch o {
	case OutcomeParsed:
		return "parsed"
	case OutcomeRaw:
		return "raw"
	case OutcomeEmpty:
		return "empty"
	default:
		return "none"
	}
}

// FinalResult is the parsed termination payload from a tool result
type FinalResult struct {
	Outcome FinalOutcome
	Data    map[string]interface{}
}

// Found reports whether markers were present at all
func (r FinalResult) Found() bool {
	return r.Outcome != OutcomeNone
}

// ParseFinalResult scans tool output for the Final-Result markers. Payloads
// that are not JSON objects degrade to {"raw": "<trimmed payload>"} rather
// than failing the run.
func ParseFinalResult(output string) FinalResult {
	match := finalResultPattern.FindStringSubmatch(output)
	if match == nil {
		return FinalResult{Outcome: OutcomeNone}
	}

	payload := match[1]
	if payload == "" {
		return FinalResult{Outcome: OutcomeEmpty, Data: map[string]interface{}{"raw": ""}}
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return FinalResult{Outcome: OutcomeRaw, Data: map[string]interface{}{"raw": payload}}
	}
	return FinalResult{Outcome: OutcomeParsed, Data: data}
}
