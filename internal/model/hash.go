package model

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeContent collapses whitespace and lowercases content so that two
// memories that differ only in formatting hash identically.
func NormalizeContent(s string) string {
	s = strings.TrimSpace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// ContentHash returns a stable identity for a memory: SHA-256 over
// type | normalized content | workspace id | entity identity (when
// memType is "entity", entityKey should be "entityType:entityName";
// empty otherwise). Two extractions of semantically identical content,
// even from different chunks, resolve to the same id here, which is what
// lets the Deduplicator recognize them as the same memory.
func ContentHash(memType, content, workspaceID, entityKey string) string {
	h := sha256.Sum256([]byte(memType + "\x00" + NormalizeContent(content) + "\x00" + workspaceID + "\x00" + entityKey))
	return hex.EncodeToString(h[:])[:32]
}
