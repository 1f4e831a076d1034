package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tably/internal/domain"
	"tably/internal/models"
)

func (db *DB) UpsertRule(ctx context.Context, rule *models.SlotRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid slot rule for resource %d: %w", rule.ResourceID, err)
	}

	hoursJSON, err := json.Marshal(rule.Hours)
	if err != nil {
		return fmt.Errorf("failed to encode rule hours: %w", err)
	}
	blackoutsJSON, err := json.Marshal(rule.Blackouts)
	if err != nil {
		return fmt.Errorf("failed to encode rule blackouts: %w", err)
	}

	now := time.Now()
	query := `INSERT INTO slot_rules (resource_id, slot_minutes, hours_json, max_advance_days,
                  blackouts_json, min_duration, max_duration, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		rule.ResourceID, rule.SlotMinutes, string(hoursJSON), rule.MaxAdvanceDays,
		string(blackoutsJSON), rule.MinDuration, rule.MaxDuration, now, now)
	if err != nil {
		return fmt.Errorf("failed to create slot rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// LatestRule returns the effective rule for a resource. Rules are
// versioned by insertion; the most recently updated row wins.
func (db *DB) LatestRule(ctx context.Context, resourceID int64) (*models.SlotRule, error) {
	return db.latestRuleQuery(ctx, db.DB, resourceID)
}

func (db *DB) latestRuleQuery(ctx context.Context, q querier, resourceID int64) (*models.SlotRule, error) {
	query := `SELECT id, resource_id, slot_minutes, hours_json, max_advance_days,
                     COALESCE(blackouts_json, ''), min_duration, max_duration, created_at, updated_at
              FROM slot_rules
              WHERE resource_id = ?
              ORDER BY updated_at DESC, id DESC
              LIMIT 1`

	var rule models.SlotRule
	var hoursJSON, blackoutsJSON string
	err := q.QueryRowContext(ctx, query, resourceID).Scan(
		&rule.ID, &rule.ResourceID, &rule.SlotMinutes, &hoursJSON, &rule.MaxAdvanceDays,
		&blackoutsJSON, &rule.MinDuration, &rule.MaxDuration, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.Reject(domain.CodeNotFound, "resource %d has no slot rule", resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot rule: %w", err)
	}

	if err := json.Unmarshal([]byte(hoursJSON), &rule.Hours); err != nil {
		return nil, fmt.Errorf("failed to decode rule hours: %w", err)
	}
	if blackoutsJSON != "" {
		if err := json.Unmarshal([]byte(blackoutsJSON), &rule.Blackouts); err != nil {
			return nil, fmt.Errorf("failed to decode rule blackouts: %w", err)
		}
	}
	return &rule, nil
}
