package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)
	jsonObjRe   = regexp.MustCompile(`(?s)\{.*\}`)
)

// DecodeJSON decodes an LLM completion into out. Models frequently wrap JSON
// in markdown code fences or surround it with prose; this strips fences first
// and, if direct decoding fails, regex-extracts the outermost JSON array or
// object before giving up.
func DecodeJSON(completion string, out interface{}) error {
	text := StripCodeFences(completion)

	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}

	var extracted string
	if wantsArray(out) {
		extracted = jsonArrayRe.FindString(text)
	} else {
		extracted = jsonObjRe.FindString(text)
	}

	if extracted == "" {
		return fmt.Errorf("no JSON found in completion (%d chars)", len(completion))
	}

	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("failed to decode extracted JSON: %w", err)
	}
	return nil
}

// StripCodeFences unwraps a ```json ... ``` (or bare ```) fenced block,
// returning the inner text. Input without fences is returned trimmed.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// wantsArray reports whether out decodes a top-level JSON array.
func wantsArray(out interface{}) bool {
	switch out.(type) {
	case *[]interface{}:
		return true
	}
	// Reflect-free heuristic: a pointer to a slice type marshals from arrays.
	// json.Unmarshal errors guide the caller either way, so a plain string
	// check on the type name suffices here.
	return strings.HasPrefix(fmt.Sprintf("%T", out), "*[]")
}
