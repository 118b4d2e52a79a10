package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type SchemaObject struct {
	Type string
	Name string
	SQL  string
}

// Sequence is the last id handed out for an AUTOINCREMENT table.
type Sequence struct {
	Table string
	Value int64
}

// Snapshot is a complete, ordered copy of a store's schema and rows: targets
// and credentials by ascending id, attributes by (credential_id, key).
type Snapshot struct {
	Version     int
	Schema      []SchemaObject
	Targets     []Target
	Credentials []Credential
	Attributes  []Attribute
	Sequences   []Sequence
}

func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &Snapshot{}
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&snap.Version); err != nil {
		return nil, fmt.Errorf("snapshot: schema version: %w", err)
	}

	if err := eachRow(ctx, tx, `
		SELECT type, name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		ORDER BY rowid
	`, func(rows *sql.Rows) error {
		var obj SchemaObject
		if err := rows.Scan(&obj.Type, &obj.Name, &obj.SQL); err != nil {
			return err
		}
		snap.Schema = append(snap.Schema, obj)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("snapshot: schema: %w", err)
	}

	if err := eachRow(ctx, tx, `
		SELECT id, name, url, `+hasAttributesExpr+` FROM targets ORDER BY id
	`, func(rows *sql.Rows) error {
		var target Target
		if err := rows.Scan(&target.ID, &target.Name, &target.URL, &target.HasAttributes); err != nil {
			return err
		}
		snap.Targets = append(snap.Targets, target)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("snapshot: targets: %w", err)
	}

	if err := eachRow(ctx, tx, `
		SELECT id, target_id, user, secret, created_at, note FROM credentials ORDER BY id
	`, func(rows *sql.Rows) error {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return err
		}
		snap.Credentials = append(snap.Credentials, cred)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("snapshot: credentials: %w", err)
	}

	if err := eachRow(ctx, tx, `
		SELECT credential_id, attr, attr_val FROM attributes ORDER BY credential_id, attr
	`, func(rows *sql.Rows) error {
		var attr Attribute
		if err := rows.Scan(&attr.CredentialID, &attr.Key, &attr.Value); err != nil {
			return err
		}
		snap.Attributes = append(snap.Attributes, attr)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("snapshot: attributes: %w", err)
	}

	if err := eachRow(ctx, tx, `
		SELECT name, seq FROM sqlite_sequence WHERE name IN (?, ?) ORDER BY name
	`, func(rows *sql.Rows) error {
		var seq Sequence
		if err := rows.Scan(&seq.Table, &seq.Value); err != nil {
			return err
		}
		snap.Sequences = append(snap.Sequences, seq)
		return nil
	}, TableTargets, TableCredentials); err != nil {
		return nil, fmt.Errorf("snapshot: sequences: %w", err)
	}

	return snap, nil
}

// Restore builds a fresh store holding exactly the snapshot's rows, keeping
// every id and advancing the id counters to at least their snapshot values.
// The snapshot's Schema is not executed; the current schema is applied instead.
func Restore(ctx context.Context, snap *Snapshot, opts ...Option) (*Store, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore: snapshot is nil")
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	store, err := Open(opts...)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.load(ctx, snap); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Validate checks the referential and uniqueness invariants of the rows.
func (snap *Snapshot) Validate() error {
	targetIDs := make(map[int64]struct{}, len(snap.Targets))
	names := make(map[string]struct{}, len(snap.Targets))
	for _, target := range snap.Targets {
		if target.ID <= 0 {
			return fmt.Errorf("%w: target id %d", ErrIntegrity, target.ID)
		}
		if _, ok := targetIDs[target.ID]; ok {
			return fmt.Errorf("%w: duplicate target id %d", ErrIntegrity, target.ID)
		}
		if target.Name == "" {
			return fmt.Errorf("%w: target %d has empty name", ErrIntegrity, target.ID)
		}
		if _, ok := names[target.Name]; ok {
			return fmt.Errorf("%w: duplicate target name %q", ErrIntegrity, target.Name)
		}
		targetIDs[target.ID] = struct{}{}
		names[target.Name] = struct{}{}
	}

	credentialIDs := make(map[int64]struct{}, len(snap.Credentials))
	for _, cred := range snap.Credentials {
		if cred.ID <= 0 {
			return fmt.Errorf("%w: credential id %d", ErrIntegrity, cred.ID)
		}
		if _, ok := credentialIDs[cred.ID]; ok {
			return fmt.Errorf("%w: duplicate credential id %d", ErrIntegrity, cred.ID)
		}
		if _, ok := targetIDs[cred.TargetID]; !ok {
			return fmt.Errorf("%w: credential %d references missing target %d", ErrIntegrity, cred.ID, cred.TargetID)
		}
		credentialIDs[cred.ID] = struct{}{}
	}

	type attrKey struct {
		credentialID int64
		key          string
	}
	attrs := make(map[attrKey]struct{}, len(snap.Attributes))
	for _, attr := range snap.Attributes {
		if _, ok := credentialIDs[attr.CredentialID]; !ok {
			return fmt.Errorf("%w: attribute %q references missing credential %d", ErrIntegrity, attr.Key, attr.CredentialID)
		}
		if attr.Key == "" {
			return fmt.Errorf("%w: credential %d has attribute with empty key", ErrIntegrity, attr.CredentialID)
		}
		k := attrKey{credentialID: attr.CredentialID, key: attr.Key}
		if _, ok := attrs[k]; ok {
			return fmt.Errorf("%w: duplicate attribute %q on credential %d", ErrIntegrity, attr.Key, attr.CredentialID)
		}
		attrs[k] = struct{}{}
	}

	for _, seq := range snap.Sequences {
		if seq.Table != TableTargets && seq.Table != TableCredentials {
			return fmt.Errorf("%w: sequence for unknown table %q", ErrIntegrity, seq.Table)
		}
		if seq.Value < 0 {
			return fmt.Errorf("%w: negative sequence for %s", ErrIntegrity, seq.Table)
		}
	}
	return nil
}

func (s *Store) load(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("restore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, target := range snap.Targets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO targets(id, name, url, has_attr) VALUES(?, ?, ?, ?)
		`, target.ID, target.Name, target.URL, target.HasAttributes); err != nil {
			return fmt.Errorf("restore: insert target %d: %w", target.ID, err)
		}
	}
	for _, cred := range snap.Credentials {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credentials(id, target_id, user, secret, created_at, note) VALUES(?, ?, ?, ?, ?, ?)
		`, cred.ID, cred.TargetID, cred.User, cred.Secret, EpochSeconds(cred.CreatedAt), cred.Note); err != nil {
			return fmt.Errorf("restore: insert credential %d: %w", cred.ID, err)
		}
	}
	for _, attr := range snap.Attributes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attributes(credential_id, attr, attr_val) VALUES(?, ?, ?)
		`, attr.CredentialID, attr.Key, attr.Value); err != nil {
			return fmt.Errorf("restore: insert attribute %q: %w", attr.Key, err)
		}
	}

	for _, seq := range snap.Sequences {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sqlite_sequence SET seq = MAX(seq, ?) WHERE name = ?
		`, seq.Value, seq.Table); err != nil {
			return fmt.Errorf("restore: advance sequence %s: %w", seq.Table, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sqlite_sequence(name, seq)
			SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = ?)
		`, seq.Table, seq.Value, seq.Table); err != nil {
			return fmt.Errorf("restore: seed sequence %s: %w", seq.Table, err)
		}
	}

	if err := refreshHasAttributes(ctx, tx, 0); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("restore: commit: %w", err)
	}
	return nil
}

func eachRow(ctx context.Context, q queryer, query string, fn func(*sql.Rows) error, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
