package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

type targetRepository struct {
	db  *sql.DB
	mu  *sync.Mutex
	now func() time.Time
}

// Register inserts a target together with its first credential and that
// credential's attributes in one transaction.
func (r *targetRepository) Register(ctx context.Context, target NewTarget) (int64, error) {
	if target.Name == "" {
		return 0, fmt.Errorf("register target: name is required")
	}
	if err := validateAttributes(target.Attributes); err != nil {
		return 0, fmt.Errorf("register target %q: %w", target.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("register target: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM targets WHERE name = ?`, target.Name).Scan(&existing)
	switch {
	case err == nil:
		return 0, fmt.Errorf("%w: %q", ErrDuplicateTargetName, target.Name)
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("register target: check name: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO targets(name, url, has_attr) VALUES(?, ?, ?)
	`, target.Name, target.URL, len(target.Attributes) > 0)
	if err != nil {
		return 0, fmt.Errorf("register target: insert target: %w", err)
	}
	targetID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("register target: last insert id: %w", err)
	}

	cred := &Credential{
		TargetID:  targetID,
		User:      target.User,
		Secret:    target.Secret,
		CreatedAt: r.now(),
		Note:      target.Note,
	}
	if err := insertCredential(ctx, tx, cred); err != nil {
		return 0, fmt.Errorf("register target: %w", err)
	}
	if err := insertAttributes(ctx, tx, cred.ID, target.Attributes); err != nil {
		return 0, fmt.Errorf("register target: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("register target: commit: %w", err)
	}
	return targetID, nil
}

// Names returns every target name in registration order.
func (r *targetRepository) Names(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT name FROM targets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list target names: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan target name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target names: %w", err)
	}
	return out, nil
}

// getTarget reads a target with has_attr computed fresh rather than trusted.
func getTarget(ctx context.Context, q queryer, ref TargetRef) (*Target, error) {
	id, err := resolveTargetID(ctx, q, ref)
	if err != nil {
		return nil, err
	}

	var target Target
	err = q.QueryRowContext(ctx, `
		SELECT id, name, url, `+hasAttributesExpr+`
		FROM targets
		WHERE id = ?
	`, id).Scan(&target.ID, &target.Name, &target.URL, &target.HasAttributes)
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", ref, err)
	}
	return &target, nil
}
