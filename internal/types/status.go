package types

// Status is a type for the lifecycle status of a resource in the database.
// Rules referenced by historical calculations are never physically removed,
// they are archived or marked deleted instead.
type Status string

const (
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

func (s Status) String() string {
	return string(s)
}
