package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the hex SHA-256 of src after NFC normalization.
func Fingerprint(src string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(src)))
	return hex.EncodeToString(sum[:])
}

// marshalCellIDs converts a cell id list to JSON TEXT for storage.
// A nil list is stored as [] so every row compares equal in golden traces.
func marshalCellIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ids); err != nil {
		return "", fmt.Errorf("marshal cell ids: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalCellIDs parses JSON TEXT back into a cell id list.
func unmarshalCellIDs(data string) ([]string, error) {
	ids := []string{}
	if data == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal cell ids: %w", err)
	}
	return ids, nil
}
