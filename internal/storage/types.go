package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"
)

var (
	ErrSchemaAlreadyInitialized = errors.New("storage: schema already initialized")
	ErrSchemaTooNew             = errors.New("storage: schema version newer than code")
	ErrDuplicateTargetName      = errors.New("storage: duplicate target name")
	ErrDuplicateAttribute       = errors.New("storage: duplicate attribute key")
	ErrEmptyAttributeKey        = errors.New("storage: empty attribute key")
	ErrTargetNotFound           = errors.New("storage: target not found")
	ErrNoCredential             = errors.New("storage: target has no credential")
	ErrNoPriorCredential        = errors.New("storage: target has no prior credential")
	ErrIntegrity                = errors.New("storage: referential integrity violated")
)

// Target is a named credential subject. HasAttributes is a denormalized hint
// recomputed on every write that touches the target's credentials.
type Target struct {
	ID            int64
	Name          string
	URL           string
	HasAttributes bool
}

// Credential is one immutable entry in a target's secret history.
type Credential struct {
	ID        int64
	TargetID  int64
	User      string
	Secret    string
	CreatedAt time.Time
	Note      string
}

type Attribute struct {
	CredentialID int64
	Key          string
	Value        string
}

// TargetRef addresses a target either by surrogate id or by exact name. A
// non-zero ID takes precedence over Name.
type TargetRef struct {
	ID   int64
	Name string
}

func ByID(id int64) TargetRef { return TargetRef{ID: id} }

func ByName(name string) TargetRef { return TargetRef{Name: name} }

func (r TargetRef) String() string {
	if r.ID != 0 {
		return "#" + strconv.FormatInt(r.ID, 10)
	}
	return strconv.Quote(r.Name)
}

type NewTarget struct {
	Name       string
	URL        string
	User       string
	Secret     string
	Note       string
	Attributes []Attribute
}

// Rotation describes a new credential for an existing target. A nil User is
// copied from the target's current credential.
type Rotation struct {
	Secret     string
	User       *string
	Note       string
	Attributes []Attribute
}

type CurrentCredential struct {
	Target     Target
	Credential Credential
	Attributes []Attribute
}

// AttributesFromMap converts a key/value map into attributes ordered by key.
func AttributesFromMap(values map[string]string) []Attribute {
	if len(values) == 0 {
		return nil
	}
	out := make([]Attribute, 0, len(values))
	for key, value := range values {
		out = append(out, Attribute{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

type TargetRepository interface {
	Register(ctx context.Context, target NewTarget) (int64, error)
	Names(ctx context.Context) ([]string, error)
}

type CredentialRepository interface {
	Rotate(ctx context.Context, ref TargetRef, rotation Rotation) (int64, error)
	Current(ctx context.Context, ref TargetRef) (*CurrentCredential, error)
	History(ctx context.Context, ref TargetRef) ([]Credential, error)
}
