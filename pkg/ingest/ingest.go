package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/project"
)

// Result is a successfully ingested model response.
type Result struct {
	Message string          `json:"message"`
	Files   project.FileSet `json:"files"`
}

// Ingest parses raw model output into a Result.
func Ingest(raw string) (*Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, api.NewEmptyResponseError()
	}

	payload := extractPayload(text)
	debug.Log("ingest", "extracted payload", "raw_bytes", len(raw), "payload_bytes", len(payload))
	if payload == "" {
		return nil, api.NewEmptyResponseError()
	}

	var top any
	if err := json.Unmarshal([]byte(payload), &top); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) && isTruncated(payload) {
			return nil, api.NewTruncatedResponseError(err)
		}
		return nil, api.NewMalformedResponseError(err)
	}

	obj, ok := top.(map[string]any)
	if !ok {
		return nil, api.NewSchemaError("message", fmt.Sprintf("payload must be an object, got %s", jsonKind(top)))
	}

	msgVal, ok := obj["message"]
	if !ok {
		return nil, api.NewSchemaError("message", "required field is missing")
	}
	message, ok := msgVal.(string)
	if !ok {
		return nil, api.NewSchemaError("message", fmt.Sprintf("must be a string, got %s", jsonKind(msgVal)))
	}

	filesVal, ok := obj["files"]
	if !ok {
		return nil, api.NewSchemaError("files", "required field is missing")
	}
	if _, ok := filesVal.(map[string]any); !ok {
		return nil, api.NewSchemaError("files", fmt.Sprintf("must be an object mapping filename to content, got %s", jsonKind(filesVal)))
	}

	// Decode files a second time as raw values so structured contents keep
	// their key order when re-serialized.
	var envelope struct {
		Files map[string]json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, api.NewMalformedResponseError(err)
	}

	files := make(project.FileSet, len(envelope.Files))
	for name, rawVal := range envelope.Files {
		content, err := fileContent(rawVal)
		if err != nil {
			return nil, api.NewSchemaError("files."+name, err.Error())
		}
		files[name] = content
	}

	return &Result{Message: message, Files: files}, nil
}

// fileContent converts one files entry to text. Strings pass through
// unchanged, {"file":{"contents":...}} tree entries are unwrapped, and any
// other value is re-serialized as indented JSON.
func fileContent(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var entry struct {
		File *struct {
			Contents *string `json:"contents"`
		} `json:"file"`
	}
	if err := json.Unmarshal(raw, &entry); err == nil && entry.File != nil && entry.File.Contents != nil {
		return *entry.File.Contents, nil
	}

	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("cannot serialize content: %w", err)
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
