package research

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// ExtractRecord recovers a structured record from raw model output. The
// model wraps its JSON unpredictably, so extraction is layered: strip
// markdown fences and parse directly, then the substring between the first
// and last brace, then every balanced-brace object in the text. A candidate
// only counts if it carries at least one recognizable business field.
func ExtractRecord(raw string) (lead.Record, error) {
	for _, candidate := range jsonCandidates(raw) {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
			continue
		}
		if !recognizable(probe) {
			continue
		}
		var rec lead.Record
		if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
			continue
		}
		normalizeRecord(&rec)
		return rec, nil
	}
	return lead.Record{}, &ParseError{
		Raw: truncate(raw, 300),
		Err: eris.New("research: no json candidate parsed"),
	}
}

// recognizable requires at least one field that only our record schema uses,
// so stray JSON in prose (citations, tool output) is not mistaken for a result.
func recognizable(probe map[string]json.RawMessage) bool {
	for _, key := range []string{"status", "event_title", "has_event", "organization_name"} {
		if _, ok := probe[key]; ok {
			return true
		}
	}
	return false
}

func normalizeRecord(rec *lead.Record) {
	if rec.Status == "" {
		rec.Status = lead.StatusUncertain
	}
	if rec.ConfidenceScore < 0 {
		rec.ConfidenceScore = 0
	}
	if rec.ConfidenceScore > 1 {
		rec.ConfidenceScore = 1
	}
}

// jsonCandidates yields parse candidates in decreasing order of likelihood.
func jsonCandidates(raw string) []string {
	text := stripFences(raw)

	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		// An array response means the model returned a list of records;
		// only the first element is the subject's record.
		if strings.HasPrefix(c, "[") {
			var elems []json.RawMessage
			if err := json.Unmarshal([]byte(repairTruncatedJSON(c)), &elems); err == nil && len(elems) > 0 {
				out = append(out, string(elems[0]))
				return
			}
		}
		out = append(out, repairTruncatedJSON(c))
	}

	add(text)

	// Substring between the first opening and last closing delimiter.
	if start := strings.IndexAny(text, "{["); start >= 0 {
		end := strings.LastIndexAny(text, "}]")
		if end > start {
			add(text[start : end+1])
		} else {
			add(text[start:]) // truncated tail, repair closes it
		}
	}

	// Every balanced top-level object in the text, for prose-wrapped JSON.
	out = append(out, balancedObjects(text, 8)...)
	return out
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// balancedObjects scans for balanced-brace object literals, skipping brace
// characters inside JSON strings. Returns at most limit candidates.
func balancedObjects(text string, limit int) []string {
	var out []string
	for start := 0; start < len(text) && len(out) < limit; {
		open := strings.IndexByte(text[start:], '{')
		if open < 0 {
			break
		}
		open += start

		depth := 0
		inString := false
		escape := false
		end := -1
		for i := open; i < len(text); i++ {
			c := text[i]
			if escape {
				escape = false
				continue
			}
			if c == '\\' && inString {
				escape = true
				continue
			}
			if c == '"' {
				inString = !inString
				continue
			}
			if inString {
				continue
			}
			switch c {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end >= 0 {
				break
			}
		}

		if end < 0 {
			// Unterminated object runs to end of text; repair will close it.
			out = append(out, text[open:])
			break
		}
		out = append(out, text[open:end+1])
		start = end + 1
	}
	return out
}

// repairTruncatedJSON closes any unclosed brackets or braces in truncated JSON.
func repairTruncatedJSON(text string) string {
	if len(text) == 0 {
		return text
	}

	// Track open delimiters in order.
	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}

		if c == '\\' && inString {
			escape = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}

	// Close unclosed delimiters in reverse order.
	for i := len(stack) - 1; i >= 0; i-- {
		// Trim trailing comma before closing (common in truncated output).
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}

	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
