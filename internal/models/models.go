package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ResourceKind identifies one of the collections mirrored for a repository
type ResourceKind int

const (
	KindIssues ResourceKind = iota
	KindLabels
	KindMilestones
	KindCollaborators
)

// AllKinds lists every resource kind in the order they are loaded
var AllKinds = []ResourceKind{KindCollaborators, KindLabels, KindMilestones, KindIssues}

func (k ResourceKind) String() string {
	switch k {
	case KindIssues:
		return "issues"
	case KindLabels:
		return "labels"
	case KindMilestones:
		return "milestones"
	case KindCollaborators:
		return "collaborators"
	default:
		return "unknown"
	}
}

// ParseKind converts the string form of a resource kind back to its value
func ParseKind(s string) (ResourceKind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

// Repository represents a GitHub repository
type Repository struct {
	Owner    string
	Name     string
	FullName string
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}

// User represents a GitHub user or collaborator
type User struct {
	Login     string
	Name      string
	AvatarURL string
}

func (u *User) Key() string { return u.Login }

func (u *User) Equal(other *User) bool {
	return other != nil && *u == *other
}

func (u *User) Clone() *User {
	c := *u
	return &c
}

// CopyFrom overwrites the content of u with other's, keeping the pointer stable
func (u *User) CopyFrom(other *User) { *u = *other }

// Label represents a GitHub label
type Label struct {
	Name        string
	Color       string
	Description string
}

func (l *Label) Key() string { return l.Name }

func (l *Label) Equal(other *Label) bool {
	return other != nil && *l == *other
}

func (l *Label) Clone() *Label {
	c := *l
	return &c
}

func (l *Label) CopyFrom(other *Label) { *l = *other }

// Milestone represents a GitHub milestone. ID is the milestone number.
type Milestone struct {
	ID           int
	Title        string
	Description  string
	DueOn        *time.Time
	Open         bool
	OpenIssues   int
	ClosedIssues int
}

func (m *Milestone) Key() int { return m.ID }

func (m *Milestone) Equal(other *Milestone) bool {
	if other == nil {
		return false
	}
	if m.ID != other.ID || m.Title != other.Title || m.Description != other.Description ||
		m.Open != other.Open || m.OpenIssues != other.OpenIssues || m.ClosedIssues != other.ClosedIssues {
		return false
	}
	return timePtrEqual(m.DueOn, other.DueOn)
}

func (m *Milestone) Clone() *Milestone {
	c := *m
	if m.DueOn != nil {
		t := *m.DueOn
		c.DueOn = &t
	}
	return &c
}

func (m *Milestone) CopyFrom(other *Milestone) { *m = *other.Clone() }

// IssueState is the open/closed state of an issue
type IssueState string

const (
	StateOpen   IssueState = "open"
	StateClosed IssueState = "closed"
)

// Issue represents a GitHub issue. ID is the issue number; Milestone and
// Parents are soft references resolved against the cache by id.
type Issue struct {
	ID          int
	Title       string
	Description string
	State       IssueState
	Labels      []string
	Milestone   int
	Assignee    string
	Parents     []int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (i *Issue) Key() int { return i.ID }

func (i *Issue) Equal(other *Issue) bool {
	if other == nil {
		return false
	}
	return i.ID == other.ID &&
		i.Title == other.Title &&
		i.Description == other.Description &&
		i.State == other.State &&
		slices.Equal(i.Labels, other.Labels) &&
		i.Milestone == other.Milestone &&
		i.Assignee == other.Assignee &&
		slices.Equal(i.Parents, other.Parents) &&
		i.CreatedAt.Equal(other.CreatedAt) &&
		i.UpdatedAt.Equal(other.UpdatedAt)
}

func (i *Issue) Clone() *Issue {
	c := *i
	c.Labels = slices.Clone(i.Labels)
	c.Parents = slices.Clone(i.Parents)
	return &c
}

func (i *Issue) CopyFrom(other *Issue) { *i = *other.Clone() }

// HasLabel reports whether the issue carries the named label
func (i *Issue) HasLabel(name string) bool {
	return slices.Contains(i.Labels, name)
}

// AddLabel applies a label; it is a no-op when the label is already present
func (i *Issue) AddLabel(name string) bool {
	if i.HasLabel(name) {
		return false
	}
	i.Labels = append(i.Labels, name)
	return true
}

// RemoveLabel strips a label, reporting whether it was present
func (i *Issue) RemoveLabel(name string) bool {
	idx := slices.Index(i.Labels, name)
	if idx < 0 {
		return false
	}
	i.Labels = slices.Delete(i.Labels, idx, idx+1)
	return true
}

// RemoveParent drops a parent link, reporting whether it was present
func (i *Issue) RemoveParent(id int) bool {
	idx := slices.Index(i.Parents, id)
	if idx < 0 {
		return false
	}
	i.Parents = slices.Delete(i.Parents, idx, idx+1)
	return true
}

// Body renders the wire body: description followed by the parent links
func (i *Issue) Body() string {
	return BuildBody(i.Description, i.Parents)
}

// SyncToken is the validation tag and last-check time used to request
// incremental updates for one resource kind of one repository
type SyncToken struct {
	ETag      string
	LastCheck time.Time
}

func (t SyncToken) IsZero() bool {
	return t.ETag == "" && t.LastCheck.IsZero()
}

// Update is the result of a conditional fetch. Modified is false when the
// remote reported no change since the supplied token.
type Update[T any] struct {
	Items    []T
	Token    SyncToken
	Modified bool
}

// IssueEdit carries only the fields of an issue that changed
type IssueEdit struct {
	Title     *string
	Body      *string
	State     *IssueState
	Milestone *int
	Assignee  *string
	Labels    []string
	SetLabels bool
}

// IsEmpty reports whether the edit changes nothing
func (e IssueEdit) IsEmpty() bool {
	return e.Title == nil && e.Body == nil && e.State == nil &&
		e.Milestone == nil && e.Assignee == nil && !e.SetLabels
}

// DiffIssue computes the field-level difference between two versions of an issue
func DiffIssue(original, edited *Issue) IssueEdit {
	var e IssueEdit
	if original.Title != edited.Title {
		e.Title = &edited.Title
	}
	if original.Description != edited.Description || !slices.Equal(original.Parents, edited.Parents) {
		body := edited.Body()
		e.Body = &body
	}
	if original.State != edited.State {
		e.State = &edited.State
	}
	if original.Milestone != edited.Milestone {
		e.Milestone = &edited.Milestone
	}
	if original.Assignee != edited.Assignee {
		e.Assignee = &edited.Assignee
	}
	if !slices.Equal(original.Labels, edited.Labels) {
		e.Labels = slices.Clone(edited.Labels)
		e.SetLabels = true
	}
	return e
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
