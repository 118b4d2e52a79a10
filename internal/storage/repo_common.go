package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// EpochSeconds converts t to the fractional seconds stored in created_at,
// truncated to microsecond precision.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// TimeFromEpoch is the inverse of EpochSeconds.
func TimeFromEpoch(seconds float64) time.Time {
	return time.UnixMicro(int64(math.Round(seconds * 1e6))).UTC()
}

func resolveTargetID(ctx context.Context, q queryer, ref TargetRef) (int64, error) {
	var (
		id  int64
		err error
	)
	switch {
	case ref.ID != 0:
		err = q.QueryRowContext(ctx, `SELECT id FROM targets WHERE id = ?`, ref.ID).Scan(&id)
	case ref.Name != "":
		err = q.QueryRowContext(ctx, `SELECT id FROM targets WHERE name = ?`, ref.Name).Scan(&id)
	default:
		return 0, fmt.Errorf("%w: empty target reference", ErrTargetNotFound)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrTargetNotFound, ref)
		}
		return 0, fmt.Errorf("resolve target %s: %w", ref, err)
	}
	return id, nil
}

// validateAttributes rejects duplicate or empty keys before anything is written.
func validateAttributes(attrs []Attribute) error {
	seen := make(map[string]struct{}, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" {
			return ErrEmptyAttributeKey
		}
		if _, ok := seen[attr.Key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateAttribute, attr.Key)
		}
		seen[attr.Key] = struct{}{}
	}
	return nil
}

func insertAttributes(ctx context.Context, q queryer, credentialID int64, attrs []Attribute) error {
	for _, attr := range attrs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO attributes(credential_id, attr, attr_val) VALUES(?, ?, ?)
		`, credentialID, attr.Key, attr.Value); err != nil {
			return fmt.Errorf("insert attribute %q: %w", attr.Key, err)
		}
	}
	return nil
}

func insertCredential(ctx context.Context, q queryer, cred *Credential) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO credentials(target_id, user, secret, created_at, note)
		VALUES(?, ?, ?, ?, ?)
	`, cred.TargetID, cred.User, cred.Secret, EpochSeconds(cred.CreatedAt), cred.Note)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	cred.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert credential: last insert id: %w", err)
	}
	return nil
}

const hasAttributesExpr = `EXISTS(
	SELECT 1 FROM credentials c
	JOIN attributes a ON a.credential_id = c.id
	WHERE c.target_id = targets.id
)`

// refreshHasAttributes recomputes the denormalized has_attr flag. A zero
// targetID refreshes every target.
func refreshHasAttributes(ctx context.Context, q queryer, targetID int64) error {
	query := `UPDATE targets SET has_attr = ` + hasAttributesExpr
	args := []any{}
	if targetID != 0 {
		query += ` WHERE id = ?`
		args = append(args, targetID)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("refresh has_attr: %w", err)
	}
	return nil
}

func scanCredential(scan func(dest ...any) error) (Credential, error) {
	var (
		cred      Credential
		createdAt float64
	)
	if err := scan(&cred.ID, &cred.TargetID, &cred.User, &cred.Secret, &createdAt, &cred.Note); err != nil {
		return Credential{}, err
	}
	cred.CreatedAt = TimeFromEpoch(createdAt)
	return cred, nil
}

func listAttributes(ctx context.Context, q queryer, credentialID int64) ([]Attribute, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT credential_id, attr, attr_val FROM attributes
		WHERE credential_id = ?
		ORDER BY attr
	`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	out := []Attribute{}
	for rows.Next() {
		var attr Attribute
		if err := rows.Scan(&attr.CredentialID, &attr.Key, &attr.Value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out = append(out, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return out, nil
}
