package graph

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Helper Functions
// ============================================================================

// exec runs a write statement and consumes its result, so server-side
// errors are reported here instead of when the session closes
func exec(ctx context.Context, session neo4j.SessionWithContext, query string, params map[string]interface{}) error {
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getMapFromRecord(record *neo4j.Record, key string) map[string]interface{} {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return map[string]interface{}{}
	}
	if m, ok := val.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// PersonKey is the node id of a person: the lowercased address when known,
// otherwise "name:" plus the normalized display name.
func PersonKey(email, name string) string {
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		return e
	}
	if n := normalizeName(name); n != "" {
		return "name:" + n
	}
	return ""
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
