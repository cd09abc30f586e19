package routing

import (
	"encoding/json"
	"fmt"
)

type refKind uint8

const (
	refExisting refKind = iota + 1
	refNew
)

// Ref names a graph entity that is either already persisted (Existing) or
// only exists in an unsaved pending graph (New, keyed by a temporary id).
// The zero Ref names nothing.
type Ref struct {
	kind refKind
	id   string
}

// Existing refers to a persisted row.
func Existing(id string) Ref { return Ref{kind: refExisting, id: id} }

// New refers to an unsaved entity by its temporary id.
func New(tempID string) Ref { return Ref{kind: refNew, id: tempID} }

// IsNew reports whether r names an unsaved entity.
func (r Ref) IsNew() bool { return r.kind == refNew }

// IsExisting reports whether r names a persisted row.
func (r Ref) IsExisting() bool { return r.kind == refExisting }

// IsZero reports whether r is unset.
func (r Ref) IsZero() bool { return r.kind == 0 }

// ID returns the persisted id or the temporary id.
func (r Ref) ID() string { return r.id }

func (r Ref) String() string {
	switch r.kind {
	case refExisting:
		return r.id
	case refNew:
		return "new:" + r.id
	}
	return "<none>"
}

type refJSON struct {
	ID     string `json:"id,omitempty"`
	TempID string `json:"temp_id,omitempty"`
}

// MarshalJSON encodes {"id": ...} or {"temp_id": ...}.
func (r Ref) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case refExisting:
		return json.Marshal(refJSON{ID: r.id})
	case refNew:
		return json.Marshal(refJSON{TempID: r.id})
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts the MarshalJSON forms.
func (r *Ref) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ref{}
		return nil
	}
	var v refJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch {
	case v.ID != "" && v.TempID != "":
		return fmt.Errorf("routing: ref has both id and temp_id")
	case v.ID != "":
		*r = Existing(v.ID)
	case v.TempID != "":
		*r = New(v.TempID)
	default:
		return fmt.Errorf("routing: ref needs id or temp_id")
	}
	return nil
}
