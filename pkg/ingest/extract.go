package ingest

import (
	"strings"
)

const fence = "```"

// extractPayload returns the part of text that should hold the JSON
// payload. A leading fence (```json or bare ```) is stripped along with
// its closing marker, if any. Prose around a fenced block, before the first
// '{' or after the object that '{' opens is discarded. An object that never
// closes is kept through the end of text so truncation is still detected.
func extractPayload(text string) string {
	if strings.HasPrefix(text, fence) {
		return stripFence(text)
	}
	if strings.HasPrefix(text, "[") {
		return text
	}

	if !strings.HasPrefix(text, "{") {
		if i := strings.Index(text, fence); i >= 0 {
			block := stripFence(text[i:])
			if strings.HasPrefix(block, "{") {
				return block
			}
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	if end := objectEnd(text[start:]); end >= 0 {
		return text[start : start+end+1]
	}
	return text[start:]
}

// objectEnd returns the index of the delimiter that closes the object or
// array s starts with, or -1 when s ends first.
func objectEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stripFence removes the opening fence line of text and, when present, the
// closing fence.
func stripFence(text string) string {
	body := strings.TrimPrefix(text, fence)
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		// Opening marker only, e.g. "```json{...". Drop an alphabetic tag.
		body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	} else if tag := strings.TrimSpace(body[:nl]); !strings.HasPrefix(tag, "{") {
		body = body[nl+1:]
	}

	// JSON strings cannot hold raw newlines, so the first fence at the
	// start of a line closes the block.
	if end := strings.Index(body, "\n"+fence); end >= 0 {
		body = body[:end]
	} else if trimmed := strings.TrimSpace(body); strings.HasSuffix(trimmed, fence) {
		body = strings.TrimSuffix(trimmed, fence)
	}
	return strings.TrimSpace(body)
}

// isTruncated reports whether a payload that failed to parse was cut off
// rather than malformed: it opens an object but lacks the closing delimiter
// or leaves a string, object or array open.
func isTruncated(payload string) bool {
	if !strings.HasPrefix(payload, "{") {
		return false
	}
	if !strings.HasSuffix(payload, "}") {
		return true
	}
	return !isBalanced(payload)
}

// isBalanced reports whether every string, object and array opened in s is
// closed again. Bracket kinds are not matched against each other.
func isBalanced(s string) bool {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth <= 0 && !inString
}
