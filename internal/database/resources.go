package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tably/internal/domain"
	"tably/internal/models"
)

func (db *DB) UpsertResource(ctx context.Context, res *models.Resource) error {
	if res.Capacity < 1 {
		return fmt.Errorf("resource %q: capacity must be at least 1", res.Name)
	}
	if res.Status == "" {
		res.Status = models.ResourceActive
	}

	now := time.Now()
	if res.ID == 0 {
		query := `INSERT INTO resources (tenant_id, name, capacity, bookable, status, created_at, updated_at)
                  VALUES (?, ?, ?, ?, ?, ?, ?)`
		result, err := db.ExecContext(ctx, query,
			res.TenantID, res.Name, res.Capacity, res.Bookable, res.Status, now, now)
		if err != nil {
			return fmt.Errorf("failed to create resource: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		res.ID = id
		res.CreatedAt = now
	} else {
		query := `INSERT INTO resources (id, tenant_id, name, capacity, bookable, status, created_at, updated_at)
                  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                  ON CONFLICT(id) DO UPDATE SET
                      tenant_id = excluded.tenant_id,
                      name = excluded.name,
                      capacity = excluded.capacity,
                      bookable = excluded.bookable,
                      status = excluded.status,
                      updated_at = excluded.updated_at`
		if _, err := db.ExecContext(ctx, query,
			res.ID, res.TenantID, res.Name, res.Capacity, res.Bookable, res.Status, now, now); err != nil {
			return fmt.Errorf("failed to upsert resource: %w", err)
		}
	}
	res.UpdatedAt = now

	db.mu.Lock()
	db.resourceCache[res.ID] = res
	db.mu.Unlock()

	return nil
}

func (db *DB) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	db.mu.RLock()
	if res, ok := db.resourceCache[id]; ok {
		db.mu.RUnlock()
		return res, nil
	}
	db.mu.RUnlock()

	res, err := db.getResourceQuery(ctx, db.DB, id)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.resourceCache[id] = res
	db.mu.Unlock()
	return res, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) getResourceQuery(ctx context.Context, q querier, id int64) (*models.Resource, error) {
	query := `SELECT id, tenant_id, name, capacity, bookable, status, created_at, updated_at
              FROM resources WHERE id = ?`
	var res models.Resource
	err := q.QueryRowContext(ctx, query, id).Scan(
		&res.ID, &res.TenantID, &res.Name, &res.Capacity, &res.Bookable, &res.Status,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.Reject(domain.CodeNotFound, "resource %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &res, nil
}

func (db *DB) GetBookableResources(ctx context.Context, tenantID int64) ([]*models.Resource, error) {
	query := `SELECT id, tenant_id, name, capacity, bookable, status, created_at, updated_at
              FROM resources
              WHERE tenant_id = ? AND bookable = 1 AND status = ?
              ORDER BY name, id`
	rows, err := db.QueryContext(ctx, query, tenantID, models.ResourceActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []*models.Resource
	for rows.Next() {
		res := &models.Resource{}
		if err := rows.Scan(
			&res.ID, &res.TenantID, &res.Name, &res.Capacity, &res.Bookable, &res.Status,
			&res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

// lockResourceTx takes the pessimistic lock for one admission attempt.
// The write on the resource row acquires sqlite's write lock up front,
// so every concurrent admission for the database serializes here and
// the subsequent availability read cannot race the insert. Admission
// order is lock acquisition order, not request arrival order.
func (db *DB) lockResourceTx(ctx context.Context, tx *sql.Tx, resourceID int64) (*models.Resource, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE resources SET lock_generation = lock_generation + 1 WHERE id = ?`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock resource: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read lock result: %w", err)
	}
	if affected == 0 {
		return nil, domain.Reject(domain.CodeNotFound, "resource %d not found", resourceID)
	}
	return db.getResourceQuery(ctx, tx, resourceID)
}
