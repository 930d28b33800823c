package index

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/billref"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

// Entity set members are namespaced so a state code never collides with a party code.
func personEntity(name string) string { return "person:" + strings.ToLower(strings.TrimSpace(name)) }
func stateEntity(code string) string  { return "state:" + strings.ToLower(code) }
func partyEntity(code string) string  { return "party:" + strings.ToLower(code) }
func billEntity(key string) string    { return "bill:" + strings.ToLower(key) }

// ExtractFingerprint derives the fingerprint of a corpus document from its
// structured attributes and the policy keywords found in its text.
func ExtractFingerprint(doc storage.Document) storage.Fingerprint {
	attrs := doc.Attributes
	areas, keywords, _ := intent.MatchTopic(doc.Content)

	var fp storage.Fingerprint
	fp.Topics = append(append(fp.Topics, attrs.Subjects...), keywords...)
	if attrs.PolicyArea != "" {
		fp.PolicyAreas = append(fp.PolicyAreas, attrs.PolicyArea)
	}
	fp.PolicyAreas = append(fp.PolicyAreas, areas...)

	for _, p := range attrs.People {
		fp.Entities = append(fp.Entities, personEntity(p))
	}
	for _, s := range attrs.States {
		fp.Entities = append(fp.Entities, stateEntity(s))
	}
	for _, p := range attrs.Parties {
		fp.Entities = append(fp.Entities, partyEntity(p))
	}
	if m, ok := billref.FindFirst(doc.Content); ok {
		fp.Entities = append(fp.Entities, billEntity(m.Ref.Key()))
	}
	fp.Scope = documentScope(doc)

	return Normalize(fp)
}

// documentScope treats members, who answer to a state delegation, and
// records that name a state in full as state business. The rest is national.
func documentScope(doc storage.Document) storage.Scope {
	if doc.Ref.Type == storage.EntityMember && len(doc.Attributes.States) > 0 {
		return storage.ScopeState
	}
	if _, ok := intent.MatchStateName(doc.Content); ok {
		return storage.ScopeState
	}
	return storage.ScopeNational
}

// QueryFingerprint derives the fingerprint to search with from a classified question.
func QueryFingerprint(c intent.Classification) storage.Fingerprint {
	p := c.Params
	var fp storage.Fingerprint
	fp.Topics = append(fp.Topics, p.Keywords...)
	fp.PolicyAreas = append(fp.PolicyAreas, p.Topics...)
	for _, n := range p.MemberNames {
		fp.Entities = append(fp.Entities, personEntity(n))
	}
	for _, s := range p.StateCodes {
		fp.Entities = append(fp.Entities, stateEntity(s))
	}
	for _, code := range p.PartyCodes {
		fp.Entities = append(fp.Entities, partyEntity(code))
	}
	if ref, ok := p.BillRef(); ok {
		fp.Entities = append(fp.Entities, billEntity(ref.Key()))
	}
	switch {
	case len(p.StateCodes) > 0:
		fp.Scope = storage.ScopeState
	case len(fp.Topics)+len(fp.PolicyAreas)+len(fp.Entities) > 0:
		fp.Scope = storage.ScopeNational
	}
	return Normalize(fp)
}
