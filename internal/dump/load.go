package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amanthanvi/gpgvault/internal/storage"
)

// tableLayout maps a table name in a dump to the row kind it holds and the
// column order its INSERT statements use.
type tableLayout struct {
	kind    rowKind
	columns []string
}

type rowKind int

const (
	rowTarget rowKind = iota
	rowCredential
	rowAttribute
)

var currentLayout = map[string]tableLayout{
	storage.TableTargets:     {kind: rowTarget, columns: []string{"id", "name", "url", "has_attr"}},
	storage.TableCredentials: {kind: rowCredential, columns: []string{"id", "target_id", "user", "secret", "created_at", "note"}},
	storage.TableAttributes:  {kind: rowAttribute, columns: []string{"credential_id", "attr", "attr_val"}},
}

// Unversioned dumps come from the gpgdb scripts, which used the same column
// order under different table names.
var legacyLayout = map[string]tableLayout{
	"targets": {kind: rowTarget, columns: []string{"id", "name", "url", "has_attr"}},
	"pw":      {kind: rowCredential, columns: []string{"id", "tid", "user", "pw", "date", "note"}},
	"pw_attr": {kind: rowAttribute, columns: []string{"pwid", "attr", "attr_val"}},
}

var legacySequenceNames = map[string]string{
	"targets": storage.TableTargets,
	"pw":      storage.TableCredentials,
}

// Load parses a dump and reconstructs a store with the same rows, ids and id
// counters. Any input Dump could not have produced fails with ErrCorruptDump;
// on failure no store is returned.
func Load(ctx context.Context, data []byte, opts ...storage.Option) (*storage.Store, error) {
	snap, err := Parse(data)
	if err != nil {
		return nil, err
	}
	store, err := storage.Restore(ctx, snap, opts...)
	if err != nil {
		if errors.Is(err, storage.ErrIntegrity) {
			return nil, fmt.Errorf("%w: %w", ErrCorruptDump, err)
		}
		return nil, fmt.Errorf("load dump: %w", err)
	}
	return store, nil
}

// Parse decodes a dump into a snapshot without touching any database.
// Referential invariants are checked later by storage.Restore.
func Parse(data []byte) (*storage.Snapshot, error) {
	tokens, err := tokenize(data)
	if err != nil {
		return nil, corrupt("%v", err)
	}
	defer wipeTokens(tokens)
	statements, err := splitStatements(tokens)
	if err != nil {
		return nil, corrupt("%v", err)
	}
	if len(statements) == 0 {
		return nil, corrupt("empty dump")
	}

	p := &parser{version: -1, created: map[string]struct{}{}}
	for _, stmt := range statements {
		if err := p.statement(stmt); err != nil {
			return nil, err
		}
	}
	if !p.begun {
		return nil, corrupt("missing BEGIN TRANSACTION")
	}
	if !p.committed {
		return nil, corrupt("missing COMMIT")
	}
	for table := range p.layout() {
		if _, ok := p.created[table]; !ok {
			return nil, corrupt("missing CREATE TABLE %s", table)
		}
	}

	p.snap.Version = FormatVersion
	return &p.snap, nil
}

type parser struct {
	version   int
	begun     bool
	committed bool
	created   map[string]struct{}
	snap      storage.Snapshot
}

func (p *parser) legacy() bool {
	return p.version <= 0
}

func (p *parser) layout() map[string]tableLayout {
	if p.legacy() {
		return legacyLayout
	}
	return currentLayout
}

func (p *parser) statement(stmt []token) error {
	if p.committed {
		return corrupt("statement after COMMIT at offset %d", stmt[0].pos)
	}
	head := stmt[0]
	switch {
	case head.is(tokWord, "PRAGMA"):
		return p.pragma(stmt)
	case head.is(tokWord, "BEGIN"):
		if p.begun || (len(stmt) > 1 && !matches(stmt[1:], "TRANSACTION")) {
			return corrupt("unexpected BEGIN at offset %d", head.pos)
		}
		if p.version < 0 {
			p.version = 0
		}
		p.begun = true
		return nil
	case head.is(tokWord, "COMMIT"), head.is(tokWord, "END"):
		if !p.begun || len(stmt) > 2 || len(stmt) == 2 && !stmt[1].is(tokWord, "TRANSACTION") {
			return corrupt("unexpected COMMIT at offset %d", head.pos)
		}
		p.committed = true
		return nil
	}

	if !p.begun {
		return corrupt("statement outside transaction at offset %d", head.pos)
	}
	switch {
	case head.is(tokWord, "CREATE"):
		return p.create(stmt)
	case head.is(tokWord, "INSERT"):
		return p.insert(stmt)
	case head.is(tokWord, "DELETE"):
		if len(stmt) != 3 || !stmt[1].is(tokWord, "FROM") || !isName(stmt[2], sequenceTable) {
			return corrupt("unsupported DELETE at offset %d", head.pos)
		}
		p.snap.Sequences = nil
		return nil
	default:
		return corrupt("unsupported statement %q at offset %d", head.text, head.pos)
	}
}

// pragma accepts only PRAGMA user_version=N ahead of the transaction.
func (p *parser) pragma(stmt []token) error {
	if p.begun || p.version >= 0 {
		return corrupt("unexpected PRAGMA at offset %d", stmt[0].pos)
	}
	if len(stmt) != 4 || !stmt[1].is(tokWord, "user_version") || !stmt[2].is(tokPunct, "=") || stmt[3].kind != tokNumber {
		return corrupt("unsupported PRAGMA at offset %d", stmt[0].pos)
	}
	version, err := strconv.Atoi(string(stmt[3].text))
	if err != nil || version < 0 {
		return corrupt("invalid format version %q", stmt[3].text)
	}
	if version > FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	p.version = version
	return nil
}

func (p *parser) create(stmt []token) error {
	rest := stmt[1:]
	if len(rest) > 0 && rest[0].is(tokWord, "UNIQUE") {
		rest = rest[1:]
	}
	if len(rest) < 2 {
		return corrupt("truncated CREATE at offset %d", stmt[0].pos)
	}
	kind := rest[0]
	rest = skipIfNotExists(rest[1:])
	if len(rest) == 0 {
		return corrupt("truncated CREATE at offset %d", stmt[0].pos)
	}
	name, ok := rest[0].name()
	if !ok {
		return corrupt("invalid object name at offset %d", rest[0].pos)
	}

	switch {
	case kind.is(tokWord, "TABLE"):
		if name == sequenceTable {
			return nil
		}
		if _, ok := p.layout()[name]; !ok {
			return corrupt("unknown table %q", name)
		}
		if _, ok := p.created[name]; ok {
			return corrupt("table %q created twice", name)
		}
		p.created[name] = struct{}{}
		return nil
	case kind.is(tokWord, "INDEX"):
		if len(rest) < 3 || !rest[1].is(tokWord, "ON") {
			return corrupt("invalid CREATE INDEX %q", name)
		}
		table, _ := rest[2].name()
		if _, ok := p.created[table]; !ok {
			return corrupt("index %q on unknown table %q", name, table)
		}
		return nil
	default:
		return corrupt("unsupported CREATE %s at offset %d", kind.text, kind.pos)
	}
}

func (p *parser) insert(stmt []token) error {
	if len(stmt) < 4 || !stmt[1].is(tokWord, "INTO") {
		return corrupt("invalid INSERT at offset %d", stmt[0].pos)
	}
	table, ok := stmt[2].name()
	if !ok {
		return corrupt("invalid table name at offset %d", stmt[2].pos)
	}
	rest := stmt[3:]

	var columns []string
	if table == sequenceTable {
		columns = []string{"name", "seq"}
	} else {
		layout, ok := p.layout()[table]
		if !ok {
			return corrupt("insert into unknown table %q", table)
		}
		if _, ok := p.created[table]; !ok {
			return corrupt("insert into %q before CREATE TABLE", table)
		}
		columns = layout.columns
	}

	if len(rest) > 0 && rest[0].is(tokPunct, "(") {
		listed, next, err := identList(rest)
		if err != nil {
			return err
		}
		if !equalFold(listed, columns) {
			return corrupt("unexpected column list for %q: %v", table, listed)
		}
		rest = next
	}
	if len(rest) == 0 || !rest[0].is(tokWord, "VALUES") {
		return corrupt("INSERT into %q without VALUES", table)
	}
	rest = rest[1:]

	for {
		values, next, err := valueTuple(rest)
		if err != nil {
			return err
		}
		if len(values) != len(columns) {
			return corrupt("%q row has %d values, want %d", table, len(values), len(columns))
		}
		if err := p.row(table, values); err != nil {
			return err
		}
		rest = next
		if len(rest) == 0 {
			return nil
		}
		if !rest[0].is(tokPunct, ",") {
			return corrupt("unexpected %q after row at offset %d", rest[0].text, rest[0].pos)
		}
		rest = rest[1:]
	}
}

func (p *parser) row(table string, v []value) error {
	if table == sequenceTable {
		return p.sequenceRow(v)
	}

	var err error
	switch p.layout()[table].kind {
	case rowTarget:
		var target storage.Target
		if target.ID, err = v[0].integer(); err != nil {
			return corrupt("targets.id: %v", err)
		}
		if target.Name, err = v[1].text(false); err != nil {
			return corrupt("targets.name: %v", err)
		}
		if target.URL, err = v[2].text(p.legacy()); err != nil {
			return corrupt("targets.url: %v", err)
		}
		// has_attr is recomputed on restore.
		p.snap.Targets = append(p.snap.Targets, target)
	case rowCredential:
		var cred storage.Credential
		if cred.ID, err = v[0].integer(); err != nil {
			return corrupt("credential id: %v", err)
		}
		if cred.TargetID, err = v[1].integer(); err != nil {
			return corrupt("credential %d target: %v", cred.ID, err)
		}
		if cred.User, err = v[2].text(p.legacy()); err != nil {
			return corrupt("credential %d user: %v", cred.ID, err)
		}
		if cred.Secret, err = v[3].text(p.legacy()); err != nil {
			return corrupt("credential %d secret: %v", cred.ID, err)
		}
		if cred.CreatedAt, err = v[4].timestamp(p.legacy()); err != nil {
			return corrupt("credential %d created_at: %v", cred.ID, err)
		}
		if cred.Note, err = v[5].text(p.legacy()); err != nil {
			return corrupt("credential %d note: %v", cred.ID, err)
		}
		p.snap.Credentials = append(p.snap.Credentials, cred)
	case rowAttribute:
		var attr storage.Attribute
		if attr.CredentialID, err = v[0].integer(); err != nil {
			return corrupt("attribute credential: %v", err)
		}
		if attr.Key, err = v[1].text(false); err != nil {
			return corrupt("attribute key: %v", err)
		}
		if attr.Value, err = v[2].text(p.legacy()); err != nil {
			return corrupt("attribute %q value: %v", attr.Key, err)
		}
		p.snap.Attributes = append(p.snap.Attributes, attr)
	}
	return nil
}

func (p *parser) sequenceRow(v []value) error {
	name, err := v[0].text(false)
	if err != nil {
		return corrupt("sqlite_sequence.name: %v", err)
	}
	seq, err := v[1].integer()
	if err != nil {
		return corrupt("sqlite_sequence.seq: %v", err)
	}
	if p.legacy() {
		mapped, ok := legacySequenceNames[name]
		if !ok {
			return corrupt("sequence for unknown table %q", name)
		}
		name = mapped
	}
	p.snap.Sequences = append(p.snap.Sequences, storage.Sequence{Table: name, Value: seq})
	return nil
}

type valueKind int

const (
	valNull valueKind = iota
	valNumber
	valText
)

type value struct {
	kind valueKind
	raw  []byte
}

func (v value) integer() (int64, error) {
	if v.kind != valNumber {
		return 0, fmt.Errorf("want integer, got %s", v.describe())
	}
	return strconv.ParseInt(string(v.raw), 10, 64)
}

// text returns string content; numbers keep their literal spelling, the way
// SQLite applies TEXT affinity.
func (v value) text(allowNull bool) (string, error) {
	switch v.kind {
	case valText, valNumber:
		return string(v.raw), nil
	default:
		if allowNull {
			return "", nil
		}
		return "", fmt.Errorf("unexpected NULL")
	}
}

func (v value) timestamp(allowNull bool) (time.Time, error) {
	switch v.kind {
	case valNumber:
		seconds, err := strconv.ParseFloat(string(v.raw), 64)
		if err != nil {
			return time.Time{}, err
		}
		return storage.TimeFromEpoch(seconds), nil
	case valNull:
		if allowNull {
			return storage.TimeFromEpoch(0), nil
		}
	}
	return time.Time{}, fmt.Errorf("want number, got %s", v.describe())
}

func (v value) describe() string {
	switch v.kind {
	case valNull:
		return "NULL"
	case valText:
		return "text"
	default:
		return "number " + string(v.raw)
	}
}

// valueTuple parses "( literal, ... )" and returns the tokens after it.
func valueTuple(tokens []token) ([]value, []token, error) {
	if len(tokens) == 0 || !tokens[0].is(tokPunct, "(") {
		return nil, nil, corrupt("expected value list")
	}
	var out []value
	i := 1
	for {
		if i >= len(tokens) {
			return nil, nil, corrupt("unterminated value list")
		}
		tok := tokens[i]
		switch {
		case tok.kind == tokString:
			out = append(out, value{kind: valText, raw: tok.text})
		case tok.kind == tokNumber:
			out = append(out, value{kind: valNumber, raw: bytes.TrimPrefix(tok.text, []byte("+"))})
		case tok.is(tokWord, "NULL"):
			out = append(out, value{kind: valNull})
		default:
			return nil, nil, corrupt("unexpected %q in value list at offset %d", tok.text, tok.pos)
		}
		i++
		if i >= len(tokens) {
			return nil, nil, corrupt("unterminated value list")
		}
		switch {
		case tokens[i].is(tokPunct, ","):
			i++
		case tokens[i].is(tokPunct, ")"):
			return out, tokens[i+1:], nil
		default:
			return nil, nil, corrupt("unexpected %q in value list at offset %d", tokens[i].text, tokens[i].pos)
		}
	}
}

// identList parses "( name, ... )" and returns the tokens after it.
func identList(tokens []token) ([]string, []token, error) {
	var out []string
	i := 1
	for i < len(tokens) {
		name, ok := tokens[i].name()
		if !ok {
			return nil, nil, corrupt("unexpected %q in column list at offset %d", tokens[i].text, tokens[i].pos)
		}
		out = append(out, name)
		i++
		if i >= len(tokens) {
			break
		}
		switch {
		case tokens[i].is(tokPunct, ","):
			i++
		case tokens[i].is(tokPunct, ")"):
			return out, tokens[i+1:], nil
		default:
			return nil, nil, corrupt("unexpected %q in column list at offset %d", tokens[i].text, tokens[i].pos)
		}
	}
	return nil, nil, corrupt("unterminated column list")
}

func skipIfNotExists(tokens []token) []token {
	if len(tokens) >= 3 && tokens[0].is(tokWord, "IF") && tokens[1].is(tokWord, "NOT") && tokens[2].is(tokWord, "EXISTS") {
		return tokens[3:]
	}
	return tokens
}

func matches(tokens []token, words ...string) bool {
	if len(tokens) != len(words) {
		return false
	}
	for i, word := range words {
		if !tokens[i].is(tokWord, word) {
			return false
		}
	}
	return true
}

func isName(tok token, want string) bool {
	name, ok := tok.name()
	return ok && name == want
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptDump, fmt.Sprintf(format, args...))
}
