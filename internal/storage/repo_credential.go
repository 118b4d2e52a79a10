package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Newest first; equal timestamps resolve to the highest id.
const credentialOrder = `ORDER BY created_at DESC, id DESC`

type credentialRepository struct {
	db  *sql.DB
	mu  *sync.Mutex
	now func() time.Time
}

func (r *credentialRepository) Rotate(ctx context.Context, ref TargetRef, rotation Rotation) (int64, error) {
	if err := validateAttributes(rotation.Attributes); err != nil {
		return 0, fmt.Errorf("rotate credential %s: %w", ref, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rotate credential: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	targetID, err := resolveTargetID(ctx, tx, ref)
	if err != nil {
		return 0, err
	}

	var user string
	if rotation.User != nil {
		user = *rotation.User
	} else {
		current, err := currentCredential(ctx, tx, targetID)
		if err != nil {
			if errors.Is(err, ErrNoCredential) {
				return 0, fmt.Errorf("%w: %s", ErrNoPriorCredential, ref)
			}
			return 0, fmt.Errorf("rotate credential: %w", err)
		}
		user = current.User
	}

	cred := &Credential{
		TargetID:  targetID,
		User:      user,
		Secret:    rotation.Secret,
		CreatedAt: r.now(),
		Note:      rotation.Note,
	}
	if err := insertCredential(ctx, tx, cred); err != nil {
		return 0, fmt.Errorf("rotate credential: %w", err)
	}
	if err := insertAttributes(ctx, tx, cred.ID, rotation.Attributes); err != nil {
		return 0, fmt.Errorf("rotate credential: %w", err)
	}
	if err := refreshHasAttributes(ctx, tx, targetID); err != nil {
		return 0, fmt.Errorf("rotate credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rotate credential: commit: %w", err)
	}
	return cred.ID, nil
}

func (r *credentialRepository) Current(ctx context.Context, ref TargetRef) (*CurrentCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := getTarget(ctx, r.db, ref)
	if err != nil {
		return nil, err
	}
	cred, err := currentCredential(ctx, r.db, target.ID)
	if err != nil {
		return nil, fmt.Errorf("current credential %s: %w", ref, err)
	}
	attrs, err := listAttributes(ctx, r.db, cred.ID)
	if err != nil {
		return nil, fmt.Errorf("current credential %s: %w", ref, err)
	}
	return &CurrentCredential{
		Target:     *target,
		Credential: cred,
		Attributes: attrs,
	}, nil
}

// History returns every credential of a target, newest first.
func (r *credentialRepository) History(ctx context.Context, ref TargetRef) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	targetID, err := resolveTargetID(ctx, r.db, ref)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, target_id, user, secret, created_at, note
		FROM credentials
		WHERE target_id = ?
		`+credentialOrder, targetID)
	if err != nil {
		return nil, fmt.Errorf("credential history %s: %w", ref, err)
	}
	defer rows.Close()

	out := []Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("credential history %s: scan: %w", ref, err)
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential history %s: iterate: %w", ref, err)
	}
	return out, nil
}

func currentCredential(ctx context.Context, q queryer, targetID int64) (Credential, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, target_id, user, secret, created_at, note
		FROM credentials
		WHERE target_id = ?
		`+credentialOrder+`
		LIMIT 1
	`, targetID)
	cred, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, fmt.Errorf("select current credential: %w", err)
	}
	return cred, nil
}
