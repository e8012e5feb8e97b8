// Package permissions implements ncog's statement-based authorization model.
//
// Authorization rules are stored as statements. Each statement either allows
// or denies an action, and every field other than allow may be left unset to
// act as a wildcard. Statements are compiled into a PermissionSet, a nested
// index keyed service -> resource type -> resource id -> action, which answers
// claims with most-specific-match-wins semantics: an exact match at any level
// always dominates a wildcard match at the same level, regardless of the
// order statements were loaded in.
package permissions

import (
	"errors"
	"fmt"
	"sort"
)

// Claim is an authorization query: "may this account perform action on this
// resource of this service?". ResourceType and ResourceID are optional;
// a nil field means the claim doesn't target a specific type or id.
type Claim struct {
	Service      string
	ResourceType *string
	ResourceID   *int64
	Action       string
}

// NewClaim builds a claim for a fully-specified resource.
func NewClaim(service string, resourceType *string, resourceID *int64, action string) Claim {
	return Claim{
		Service:      service,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
	}
}

func (c Claim) String() string {
	resourceType := "*"
	if c.ResourceType != nil {
		resourceType = *c.ResourceType
	}
	resourceID := "*"
	if c.ResourceID != nil {
		resourceID = fmt.Sprintf("%d", *c.ResourceID)
	}
	return fmt.Sprintf("%s:%s:%s:%s", c.Service, resourceType, resourceID, c.Action)
}

// DeniedError is returned when no applicable allow statement exists for a
// claim. It is a rejection of the request, never a server fault.
type DeniedError struct {
	Claim Claim
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Claim)
}

// Denied wraps a claim in a DeniedError.
func Denied(claim Claim) error {
	return &DeniedError{Claim: claim}
}

// ErrMalformedStatement is returned by Statement.Validate for statements that
// name a resource id without a resource type. The database enforces the same
// rule with a CHECK constraint.
var ErrMalformedStatement = errors.New("permissions: statement has resource_id without resource_type")

// Statement is a stored authorization rule. A nil field is a wildcard that
// matches any value at its level. RoleID links the statement to a role; a nil
// RoleID means the statement applies to every account.
type Statement struct {
	ID           int64
	RoleID       *int64
	Service      *string
	ResourceType *string
	ResourceID   *int64
	Action       *string
	Allow        bool
}

// Validate rejects statements that target a resource id without naming its
// resource type.
func (s Statement) Validate() error {
	if s.ResourceID != nil && s.ResourceType == nil {
		return ErrMalformedStatement
	}
	return nil
}

// PermissionSet is the compiled, queryable form of an account's statements.
// It is immutable once built; permission refreshes replace the whole set.
type PermissionSet struct {
	services   map[string]*servicePermission
	anyService *servicePermission
	roleIDs    map[int64]struct{}
}

// New compiles statements into a PermissionSet. roleIDs lists every role the
// account holds; role ids referenced by statements are merged in as well, so
// the set can answer HasRole for roles with and without statements.
//
// Statements colliding on the exact same key path resolve last-write-wins, so
// callers should pass statements in a deterministic order (the store loads
// them by ascending statement id). Malformed statements are skipped; the
// database CHECK constraint prevents them from existing in the first place.
func New(statements []Statement, roleIDs []int64) *PermissionSet {
	set := &PermissionSet{
		services: make(map[string]*servicePermission),
		roleIDs:  make(map[int64]struct{}, len(roleIDs)),
	}
	for _, id := range roleIDs {
		set.roleIDs[id] = struct{}{}
	}
	for _, statement := range statements {
		if statement.Validate() != nil {
			continue
		}
		if statement.RoleID != nil {
			set.roleIDs[*statement.RoleID] = struct{}{}
		}
		set.bucket(statement.Service).apply(statement)
	}
	return set
}

// FromStatements compiles statements with no additional role memberships.
func FromStatements(statements []Statement) *PermissionSet {
	return New(statements, nil)
}

func (p *PermissionSet) bucket(service *string) *servicePermission {
	if service == nil {
		if p.anyService == nil {
			p.anyService = newServicePermission()
		}
		return p.anyService
	}
	bucket, ok := p.services[*service]
	if !ok {
		bucket = newServicePermission()
		p.services[*service] = bucket
	}
	return bucket
}

// Allowed reports whether the claim is permitted. The exact service bucket is
// consulted first; the wildcard bucket only answers when the exact bucket has
// no definitive answer. With no applicable statement at all the claim is
// denied.
func (p *PermissionSet) Allowed(claim Claim) bool {
	if bucket, ok := p.services[claim.Service]; ok {
		if allowed, ok := bucket.allowed(claim); ok {
			return allowed
		}
	}
	if p.anyService != nil {
		if allowed, ok := p.anyService.allowed(claim); ok {
			return allowed
		}
	}
	return false
}

// Check returns nil when the claim is permitted and a *DeniedError otherwise.
func (p *PermissionSet) Check(claim Claim) error {
	if p.Allowed(claim) {
		return nil
	}
	return Denied(claim)
}

// HasRole reports whether the account this set was built for holds roleID.
func (p *PermissionSet) HasRole(roleID int64) bool {
	_, ok := p.roleIDs[roleID]
	return ok
}

// RoleIDs returns the account's role memberships in ascending order.
func (p *PermissionSet) RoleIDs() []int64 {
	ids := make([]int64, 0, len(p.roleIDs))
	for id := range p.roleIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type servicePermission struct {
	resourceTypes map[string]*resourceTypePermission
	anyType       *resourceTypePermission
}

func newServicePermission() *servicePermission {
	return &servicePermission{resourceTypes: make(map[string]*resourceTypePermission)}
}

func (p *servicePermission) apply(statement Statement) {
	if statement.ResourceType == nil {
		if p.anyType == nil {
			p.anyType = newResourceTypePermission()
		}
		p.anyType.apply(statement)
		return
	}
	bucket, ok := p.resourceTypes[*statement.ResourceType]
	if !ok {
		bucket = newResourceTypePermission()
		p.resourceTypes[*statement.ResourceType] = bucket
	}
	bucket.apply(statement)
}

func (p *servicePermission) allowed(claim Claim) (allowed, ok bool) {
	if claim.ResourceType != nil {
		if bucket, present := p.resourceTypes[*claim.ResourceType]; present {
			if allowed, ok = bucket.allowed(claim); ok {
				return allowed, true
			}
		}
	}
	if p.anyType != nil {
		return p.anyType.allowed(claim)
	}
	return false, false
}

type resourceTypePermission struct {
	resources   map[int64]*resourcePermission
	anyResource *resourcePermission
}

func newResourceTypePermission() *resourceTypePermission {
	return &resourceTypePermission{resources: make(map[int64]*resourcePermission)}
}

func (p *resourceTypePermission) apply(statement Statement) {
	if statement.ResourceID == nil {
		if p.anyResource == nil {
			p.anyResource = newResourcePermission()
		}
		p.anyResource.apply(statement)
		return
	}
	bucket, ok := p.resources[*statement.ResourceID]
	if !ok {
		bucket = newResourcePermission()
		p.resources[*statement.ResourceID] = bucket
	}
	bucket.apply(statement)
}

func (p *resourceTypePermission) allowed(claim Claim) (allowed, ok bool) {
	if claim.ResourceID != nil {
		if bucket, present := p.resources[*claim.ResourceID]; present {
			if allowed, ok = bucket.allowed(claim); ok {
				return allowed, true
			}
		}
	}
	if p.anyResource != nil {
		return p.anyResource.allowed(claim)
	}
	return false, false
}

type resourcePermission struct {
	actions   map[string]bool
	anyAction *bool
}

func newResourcePermission() *resourcePermission {
	return &resourcePermission{actions: make(map[string]bool)}
}

func (p *resourcePermission) apply(statement Statement) {
	if statement.Action == nil {
		allow := statement.Allow
		p.anyAction = &allow
		return
	}
	p.actions[*statement.Action] = statement.Allow
}

func (p *resourcePermission) allowed(claim Claim) (allowed, ok bool) {
	if allowed, present := p.actions[claim.Action]; present {
		return allowed, true
	}
	if p.anyAction != nil {
		return *p.anyAction, true
	}
	return false, false
}
