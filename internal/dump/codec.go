// Package dump converts a vault store to and from a self-describing SQLite
// statement script.
//
// The script is replayable by the sqlite3 shell, so a decrypted vault can be
// inspected with nothing but standard tooling. Load accepts only the subset of
// SQL that Dump produces, plus the unversioned dumps written by the original
// gpgdb scripts.
package dump

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/amanthanvi/gpgvault/internal/storage"
)

// FormatVersion is written as PRAGMA user_version at the head of every dump.
const FormatVersion = 1

var (
	ErrCorruptDump        = errors.New("dump: corrupt dump")
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported dump format version", ErrCorruptDump)
)

const sequenceTable = "sqlite_sequence"

// Dump serializes every schema object and row of store. The output is
// byte-for-byte reproducible for the same store contents.
func Dump(ctx context.Context, store *storage.Store) ([]byte, error) {
	if store == nil {
		return nil, fmt.Errorf("dump: store is nil")
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("dump: store schema version %d cannot be written as format %d", snap.Version, FormatVersion)
	}
	return encode(snap), nil
}

func encode(snap *storage.Snapshot) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "PRAGMA user_version=%d;\n", FormatVersion)
	buf.WriteString("BEGIN TRANSACTION;\n")

	for _, obj := range snap.Schema {
		buf.WriteString(strings.TrimSpace(obj.SQL))
		buf.WriteString(";\n")
	}

	for _, target := range snap.Targets {
		writeInsert(&buf, storage.TableTargets,
			formatInt(target.ID),
			quoteText(target.Name),
			quoteText(target.URL),
			formatBool(target.HasAttributes),
		)
	}
	for _, cred := range snap.Credentials {
		writeInsert(&buf, storage.TableCredentials,
			formatInt(cred.ID),
			formatInt(cred.TargetID),
			quoteText(cred.User),
			quoteText(cred.Secret),
			formatReal(storage.EpochSeconds(cred.CreatedAt)),
			quoteText(cred.Note),
		)
	}
	for _, attr := range snap.Attributes {
		writeInsert(&buf, storage.TableAttributes,
			formatInt(attr.CredentialID),
			quoteText(attr.Key),
			quoteText(attr.Value),
		)
	}

	fmt.Fprintf(&buf, "DELETE FROM %s;\n", quoteIdent(sequenceTable))
	for _, seq := range snap.Sequences {
		writeInsert(&buf, sequenceTable, quoteText(seq.Table), formatInt(seq.Value))
	}

	buf.WriteString("COMMIT;\n")
	return buf.Bytes()
}

func writeInsert(buf *bytes.Buffer, table string, values ...string) {
	buf.WriteString("INSERT INTO ")
	buf.WriteString(quoteIdent(table))
	buf.WriteString(" VALUES(")
	buf.WriteString(strings.Join(values, ","))
	buf.WriteString(");\n")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteText renders s as a SQL string literal. Text that is not valid UTF-8
// or holds a NUL is written as a hex literal so it survives the sqlite3 shell.
func quoteText(s string) string {
	if !utf8.ValidString(s) || strings.IndexByte(s, 0) >= 0 {
		return "X'" + strings.ToUpper(hex.EncodeToString([]byte(s))) + "'"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// formatReal keeps a decimal point so sqlite3 stores the value as REAL.
func formatReal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
