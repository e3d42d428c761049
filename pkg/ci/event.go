package ci

// EventType is the kind of repository activity that can trigger a
// workflow.
type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
	EventDispatch    EventType = "workflow_dispatch"
)

// Event is one triggering occurrence delivered to the runner.
type Event struct {
	Type EventType

	// Branch is the ref the event happened on. For pull requests this
	// is the source branch of the change.
	Branch string

	// Commit is the exact revision to build. When empty the branch head
	// is used.
	Commit string

	// Owner is the account the triggering ref belongs to. For pull
	// requests from forks this is the fork owner, not the upstream one.
	Owner string
}

// Trusted reports whether the event may publish build outputs. Anything
// not owned by the trusted owner builds but never pushes to the cache.
func (e Event) Trusted(owner string) bool {
	return e.Owner == owner
}
