package adapters

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/user/gosec-agg/pkg/engine"
)

// LynisAdapter parses the key=value report file written by `lynis audit system --report-file`.
type LynisAdapter struct{}

func (LynisAdapter) Tool() string { return "lynis" }

func (a LynisAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	host := "localhost"
	var out []engine.RawFinding
	var warnings []ParseWarning

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		var kind, rest string
		switch {
		case strings.HasPrefix(line, "hostname="):
			if h := strings.TrimSpace(strings.TrimPrefix(line, "hostname=")); h != "" {
				host = h
			}
			continue
		case strings.HasPrefix(line, "warning[]="):
			kind, rest = "WARNING", strings.TrimPrefix(line, "warning[]=")
		case strings.HasPrefix(line, "suggestion[]="):
			kind, rest = "SUGGESTION", strings.TrimPrefix(line, "suggestion[]=")
		default:
			continue
		}

		// TEST-ID|text|details|solution|
		parts := strings.Split(rest, "|")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: idx, Reason: "expected TEST-ID|text"})
			idx++
			continue
		}
		msg := strings.TrimSpace(parts[1])
		if len(parts) > 2 {
			if d := strings.TrimSpace(parts[2]); d != "" && d != "-" {
				msg += " (" + d + ")"
			}
		}
		out = append(out, engine.RawFinding{
			Tool:        a.Tool(),
			RuleID:      strings.TrimSpace(parts[0]),
			RawSeverity: kind,
			Message:     msg,
		})
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, err
	}
	// hostname= can appear after the findings.
	for i := range out {
		out[i].Resource = host + "/" + out[i].RuleID
	}
	return out, warnings, nil
}
