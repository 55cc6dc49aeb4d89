package roadmap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"codepods/pkg/clienterr"
)

const msgMalformed = "The AI returned a roadmap in an unexpected format."

// Phase is one chronological step of a generated learning roadmap.
type Phase struct {
	ID        string   `json:"id" yaml:"id"`
	Title     string   `json:"title" yaml:"title"`
	WeekRange string   `json:"weekRange" yaml:"weekRange"`
	Tasks     []string `json:"tasks" yaml:"tasks"`
}

// Parse decodes the model's text into phases. It strips surrounding
// whitespace, one leading <think> block and one Markdown code fence, and
// repairs nothing else. Any failure is a MalformedResponseError and no
// phases are returned.
func Parse(result string) ([]Phase, error) {
	text, err := unwrap(result)
	if err != nil {
		return nil, malformed(err)
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var phases []Phase
	if err := dec.Decode(&phases); err != nil {
		return nil, malformed(fmt.Errorf("decode roadmap: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed(errors.New("trailing data after roadmap array"))
	}

	if err := Validate(phases); err != nil {
		return nil, malformed(err)
	}
	return phases, nil
}

// Validate reports the first well-formedness violation in phases.
func Validate(phases []Phase) error {
	if len(phases) == 0 {
		return errors.New("roadmap has no phases")
	}

	seen := make(map[string]struct{}, len(phases))
	for i, p := range phases {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("phase %d: missing id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("phase %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}

		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("phase %q: missing title", p.ID)
		}
		if len(p.Tasks) == 0 {
			return fmt.Errorf("phase %q: no tasks", p.ID)
		}
		for j, task := range p.Tasks {
			if strings.TrimSpace(task) == "" {
				return fmt.Errorf("phase %q: task %d is blank", p.ID, j)
			}
		}
	}
	return nil
}

func unwrap(result string) (string, error) {
	text := strings.TrimSpace(result)

	if strings.HasPrefix(text, "<think>") {
		end := strings.Index(text, "</think>")
		if end < 0 {
			return "", errors.New("unterminated <think> block")
		}
		text = strings.TrimSpace(text[end+len("</think>"):])
	}

	if strings.HasPrefix(text, "```") {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 || !strings.HasSuffix(text, "```") || len(text) < nl+4 {
			return "", errors.New("unterminated code fence")
		}
		text = strings.TrimSpace(text[nl+1 : len(text)-3])
	}

	if text == "" {
		return "", errors.New("empty roadmap text")
	}
	return text, nil
}

func malformed(cause error) error {
	return clienterr.Wrap(clienterr.KindMalformedResponse, msgMalformed, cause)
}

// Encode renders phases as indented JSON, the same shape Parse accepts.
func Encode(phases []Phase) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(phases); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
