// Package storage provides database models and repositories for the legislative engine.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies which corpus table an entity lives in.
type EntityType string

const (
	EntityBill   EntityType = "bill"
	EntityMember EntityType = "member"
	EntityAction EntityType = "action"
)

// EntityTypes lists every indexable entity type.
var EntityTypes = []EntityType{EntityBill, EntityMember, EntityAction}

// ParseEntityType validates a user-supplied entity type name.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case EntityBill:
		return EntityBill, nil
	case EntityMember:
		return EntityMember, nil
	case EntityAction:
		return EntityAction, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// EntityRef identifies a single corpus entity.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

func (r EntityRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Scope is the jurisdictional reach of a record.
type Scope string

const (
	ScopeNational Scope = "national"
	ScopeState    Scope = "state"
	ScopeLocal    Scope = "local"
)

// EmbeddingRecord is the current dense vector for one entity.
type EmbeddingRecord struct {
	EntityType    EntityType     `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Vector        []float32      `json:"-"`
	SourceContent string         `json:"source_content"`
	ContentHash   string         `json:"content_hash"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Ref returns the entity reference of the record.
func (r *EmbeddingRecord) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// Fingerprint is the structured attribute summary used for set-overlap matching.
type Fingerprint struct {
	Topics      []string `json:"topics"`
	PolicyAreas []string `json:"policy_areas"`
	Entities    []string `json:"entities"`
	Scope       Scope    `json:"scope"`
}

// IsEmpty reports whether the fingerprint carries no attributes at all.
func (f Fingerprint) IsEmpty() bool {
	return len(f.Topics) == 0 && len(f.PolicyAreas) == 0 && len(f.Entities) == 0 && f.Scope == ""
}

// FingerprintRecord is the current fingerprint for one entity.
type FingerprintRecord struct {
	EntityType    EntityType  `json:"entity_type"`
	EntityID      string      `json:"entity_id"`
	Fingerprint   Fingerprint `json:"fingerprint"`
	SourceContent string      `json:"source_content"`
	ContentHash   string      `json:"content_hash"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Ref returns the entity reference of the record.
func (r *FingerprintRecord) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// Bill is a row of the bills table.
type Bill struct {
	ID               string     `json:"id"`
	BillType         string     `json:"bill_type"`
	Number           int        `json:"number"`
	Congress         int        `json:"congress"`
	Title            string     `json:"title"`
	Summary          string     `json:"summary"`
	PolicyArea       string     `json:"policy_area"`
	Subjects         []string   `json:"subjects"`
	Status           string     `json:"status"`
	IntroducedDate   time.Time  `json:"introduced_date"`
	LatestActionDate *time.Time `json:"latest_action_date,omitempty"`
	SponsorID        string     `json:"sponsor_id"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NaturalKey returns the resolver key for the bill, e.g. "hr1234".
func (b *Bill) NaturalKey() string {
	return BillKey(b.BillType, b.Number)
}

// BillKey builds a bill natural key from a type code and number.
func BillKey(billType string, number int) string {
	return fmt.Sprintf("%s%d", strings.ToLower(billType), number)
}

// Member is a row of the members table.
type Member struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Party     string    `json:"party"`
	State     string    `json:"state"`
	Chamber   string    `json:"chamber"`
	District  int       `json:"district,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action is a row of the actions table.
type Action struct {
	ID         string    `json:"id"`
	BillID     string    `json:"bill_id"`
	ActionDate time.Time `json:"action_date"`
	Chamber    string    `json:"chamber"`
	Text       string    `json:"text"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Document is the indexable text form of an entity.
type Document struct {
	Ref        EntityRef
	Content    string
	UpdatedAt  time.Time
	Attributes DocumentAttributes
}

// DocumentAttributes carries the structured fields fingerprint extraction reads.
type DocumentAttributes struct {
	PolicyArea string
	Subjects   []string
	People     []string
	States     []string
	Parties    []string
	Chamber    string
}
