// Package dataset turns training files into the newline-separated document
// text that model.LoadData consumes.
//
// Plain files are used as-is, one document per line. JSONL files follow the
// hybrid record schema (knowledge, memory, qa, chat, trajectory,
// preference); every record becomes one document.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is one JSONL row. id and record_type are required.
type Record struct {
	RecordType string   `json:"record_type"`
	Text       string   `json:"text,omitempty"`
	Question   string   `json:"question,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Input      string   `json:"input,omitempty"`
	Output     string   `json:"output,omitempty"`
	Task       string   `json:"task,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	Result     string   `json:"result,omitempty"`
	Prompt     string   `json:"prompt,omitempty"`
	Chosen     string   `json:"chosen,omitempty"`
	Rejected   string   `json:"rejected,omitempty"`
	ID         string   `json:"id,omitempty"`
}

// fieldSep joins the parts of a record. Documents are split on newlines
// downstream, so a record must stay on one line.
const fieldSep = " | "

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = normalize(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, fieldSep)
}

// Doc validates rec and returns its training text.
func (rec Record) Doc() (string, error) {
	if normalize(rec.ID) == "" {
		return "", fmt.Errorf("missing required field: id")
	}
	rt := normalize(rec.RecordType)
	if rt == "" {
		return "", fmt.Errorf("missing required field: record_type")
	}
	switch rt {
	case "knowledge", "memory":
		text := normalize(rec.Text)
		if text == "" {
			return "", fmt.Errorf("%s requires non-empty text", rt)
		}
		return text, nil
	case "qa":
		q, a := normalize(rec.Question), normalize(rec.Answer)
		if q == "" || a == "" {
			return "", fmt.Errorf("qa requires non-empty question and answer")
		}
		return joinNonEmpty("Question: "+q, "Answer: "+a), nil
	case "chat":
		in, out := normalize(rec.Input), normalize(rec.Output)
		if in == "" || out == "" {
			return "", fmt.Errorf("chat requires non-empty input and output")
		}
		return joinNonEmpty("User: "+in, "Assistant: "+out), nil
	case "trajectory":
		task, result := normalize(rec.Task), normalize(rec.Result)
		if task == "" || result == "" {
			return "", fmt.Errorf("trajectory requires non-empty task and result")
		}
		actions := ""
		clean := make([]string, 0, len(rec.Actions))
		for _, a := range rec.Actions {
			if a = normalize(a); a != "" {
				clean = append(clean, a)
			}
		}
		if len(clean) > 0 {
			actions = "Actions: " + strings.Join(clean, ", ")
		}
		return joinNonEmpty("Task: "+task, actions, "Result: "+result), nil
	case "preference":
		prompt, chosen, rejected := normalize(rec.Prompt), normalize(rec.Chosen), normalize(rec.Rejected)
		if prompt == "" || chosen == "" || rejected == "" {
			return "", fmt.Errorf("preference requires non-empty prompt, chosen, and rejected")
		}
		// rejected is only checked; the chosen answer is what gets trained on.
		return joinNonEmpty("Prompt: "+prompt, "Preferred: "+chosen), nil
	default:
		return "", fmt.Errorf("unsupported record_type: %s", rt)
	}
}

// ParseLine decodes and validates one JSONL line.
func ParseLine(line string, lineNo int) (Record, string, error) {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return Record{}, "", fmt.Errorf("invalid JSON at line %d: %w", lineNo, err)
	}
	doc, err := rec.Doc()
	if err != nil {
		if rec.ID != "" {
			return Record{}, "", fmt.Errorf("line %d (id=%s): %w", lineNo, rec.ID, err)
		}
		return Record{}, "", fmt.Errorf("line %d: %w", lineNo, err)
	}
	return rec, doc, nil
}

// ReadJSONL returns the documents of a JSONL stream, one per record.
func ReadJSONL(r io.Reader) ([]string, error) {
	var docs []string
	s := newScanner(r)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		_, doc, err := ParseLine(line, lineNo)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Report summarizes a validated JSONL file.
type Report struct {
	Total  int
	Counts map[string]int
}

// Types returns the record types present, sorted.
func (r Report) Types() []string {
	keys := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every record of a JSONL stream and rejects duplicate ids.
func Validate(r io.Reader) (Report, error) {
	rep := Report{Counts: map[string]int{}}
	seenIDs := map[string]int{}
	s := newScanner(r)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		rec, _, err := ParseLine(line, lineNo)
		if err != nil {
			return rep, err
		}
		id := normalize(rec.ID)
		if prev, ok := seenIDs[id]; ok {
			return rep, fmt.Errorf("line %d (id=%s): duplicate id also used at line %d", lineNo, id, prev)
		}
		seenIDs[id] = lineNo
		rep.Counts[normalize(rec.RecordType)]++
		rep.Total++
	}
	return rep, s.Err()
}

// ValidateFile is Validate on a path.
func ValidateFile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()
	return Validate(f)
}

// IsJSONL reports whether path is parsed with the record schema.
func IsJSONL(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonl")
}

// ReadText returns the training text of r. JSONL input is converted one
// record per line; anything else is returned unchanged.
func ReadText(r io.Reader, jsonl bool) (string, error) {
	if !jsonl {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	docs, err := ReadJSONL(r)
	if err != nil {
		return "", err
	}
	return strings.Join(docs, "\n"), nil
}

// LoadFile returns the training text stored at path.
func LoadFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	text, err := ReadText(f, IsJSONL(path))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return text, nil
}

// Preview shortens s to max runes for log lines.
func Preview(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max]) + "..."
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return s
}
