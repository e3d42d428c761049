package ci

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Workflow is the parsed definition of one CI workflow: what it is
// called and which events start it.
type Workflow struct {
	Name string   `yaml:"name"`
	On   Triggers `yaml:"on"`
}

type Triggers struct {
	Push        *PushTrigger        `yaml:"push"`
	PullRequest *PullRequestTrigger `yaml:"pull_request"`
	Dispatch    *DispatchTrigger    `yaml:"workflow_dispatch"`
}

type PushTrigger struct {
	Branches []string `yaml:"branches"`
}

type PullRequestTrigger struct {
	Branches []string `yaml:"branches"`
}

type DispatchTrigger struct{}

func LoadWorkflow(path string) (*Workflow, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseWorkflow(data)
}

func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow

	err := yaml.Unmarshal(data, &wf)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing workflow")
	}

	if wf.Name == "" {
		return nil, errors.Errorf("workflow has no name")
	}

	if wf.On.Push == nil && wf.On.PullRequest == nil && wf.On.Dispatch == nil {
		return nil, errors.Errorf("workflow %s has no triggers", wf.Name)
	}

	return &wf, nil
}

// Matches reports whether the event starts this workflow.
func (w *Workflow) Matches(ev Event) bool {
	switch ev.Type {
	case EventPush:
		return w.On.Push != nil && branchMatches(w.On.Push.Branches, ev.Branch)
	case EventPullRequest:
		return w.On.PullRequest != nil && branchMatches(w.On.PullRequest.Branches, ev.Branch)
	case EventDispatch:
		return w.On.Dispatch != nil
	default:
		return false
	}
}

// branchMatches treats an empty filter as matching every branch.
func branchMatches(filter []string, branch string) bool {
	if len(filter) == 0 {
		return true
	}

	for _, b := range filter {
		if b == branch {
			return true
		}
	}

	return false
}

// Key is the concurrency key of the event: one run per workflow per
// branch may be in flight at a time.
func (w *Workflow) Key(ev Event) string {
	return w.Name + "-" + ev.Branch
}
