package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/FlowPilot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConversation scans a ConversationRecord from a row selected with conversationColumns.
func scanConversation(row rowScanner) (models.ConversationRecord, error) {
	var rec models.ConversationRecord
	var address, flowType, currentStep sql.NullString
	var contextJSON []byte
	err := row.Scan(
		&rec.ID, &address, &flowType, &currentStep, &rec.Status,
		&contextJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Address = address.String
	rec.FlowType = models.FlowType(flowType.String)
	rec.CurrentStep = currentStep.String
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
			return rec, fmt.Errorf("failed to decode context for conversation %s: %w", rec.ID, err)
		}
	}
	if rec.Context.FlowData == nil {
		rec.Context.FlowData = map[string]string{}
	}
	return rec, nil
}

// conversationColumns is the column list matching scanConversation.
const conversationColumns = `id, address, flow_type, current_step, status, context, created_at, updated_at`
