package adapters

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/user/gosec-agg/pkg/engine"
)

// NiktoAdapter parses nikto JSON output and falls back to its plain text output.
type NiktoAdapter struct{}

type niktoRun struct {
	Host            string            `json:"host"`
	IP              string            `json:"ip"`
	Port            flexLine          `json:"port"`
	Banner          string            `json:"banner"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

type niktoVulnerability struct {
	ID     string `json:"id"`
	Msg    string `json:"msg"`
	OSVDB  string `json:"osvdb"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

var niktoIDPrefix = regexp.MustCompile(`^(OSVDB-\d+|\d{6}):\s*`)

func (NiktoAdapter) Tool() string { return "nikto" }

func (a NiktoAdapter) Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("empty report")
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return a.parseText(string(raw)), nil, nil
	}

	// nikto emits either one run object or an array of runs.
	var runs []niktoRun
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &runs); err != nil {
			return nil, nil, err
		}
	} else {
		var run niktoRun
		if err := json.Unmarshal(trimmed, &run); err != nil {
			return nil, nil, err
		}
		runs = append(runs, run)
	}

	var out []engine.RawFinding
	var warnings []ParseWarning
	idx := 0
	for _, run := range runs {
		for _, e := range run.Vulnerabilities {
			var v niktoVulnerability
			if err := json.Unmarshal(e, &v); err != nil || v.Msg == "" {
				warnings = append(warnings, ParseWarning{Tool: a.Tool(), Index: idx, Reason: reasonOf(err, "missing msg")})
				idx++
				continue
			}
			ruleID := firstNonEmpty(v.ID, v.OSVDB)
			if ruleID == "" {
				hash := md5.Sum([]byte(v.Msg))
				ruleID = "nikto-" + hex.EncodeToString(hash[:])[:8]
			}
			out = append(out, engine.RawFinding{
				Tool:        a.Tool(),
				RuleID:      ruleID,
				RawSeverity: "FINDING",
				Message:     v.Msg,
				Resource:    fmt.Sprintf("%s:%d%s#%s", firstNonEmpty(run.Host, run.IP), int(run.Port), v.URL, ruleID),
			})
			idx++
		}
	}
	return out, warnings, nil
}

// parseText reads the "+ " prefixed lines of nikto's default output.
func (a NiktoAdapter) parseText(output string) []engine.RawFinding {
	var out []engine.RawFinding
	host, port := "", ""
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "+ ") {
			continue
		}
		msg := strings.TrimPrefix(line, "+ ")
		switch {
		case strings.HasPrefix(msg, "Target Hostname:"):
			host = strings.TrimSpace(strings.TrimPrefix(msg, "Target Hostname:"))
			continue
		case strings.HasPrefix(msg, "Target IP:"):
			if host == "" {
				host = strings.TrimSpace(strings.TrimPrefix(msg, "Target IP:"))
			}
			continue
		case strings.HasPrefix(msg, "Target Port:"):
			port = strings.TrimSpace(strings.TrimPrefix(msg, "Target Port:"))
			continue
		case strings.HasPrefix(msg, "Target"), strings.HasPrefix(msg, "Start Time"),
			strings.HasPrefix(msg, "End Time"), strings.HasPrefix(msg, "Server:"),
			strings.Contains(msg, "host(s) tested"):
			continue
		}

		ruleID := ""
		if m := niktoIDPrefix.FindStringSubmatch(msg); m != nil {
			ruleID = m[1]
			msg = strings.TrimPrefix(msg, m[0])
		}
		hash := md5.Sum([]byte(msg))
		id := hex.EncodeToString(hash[:])[:8]
		out = append(out, engine.RawFinding{
			Tool:        a.Tool(),
			RuleID:      firstNonEmpty(ruleID, "nikto-"+id),
			RawSeverity: "FINDING",
			Message:     msg,
			Resource:    fmt.Sprintf("%s:%s#%s", host, port, id),
		})
	}
	return out
}
