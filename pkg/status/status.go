package status

import (
	"fmt"
	"io"

	"github.com/morikuni/aec"
)

// Display writes colored, single-line status updates for CI runs and
// build steps. Set Plain to suppress escape codes for non-terminal
// output.
type Display struct {
	Output io.Writer
	Plain  bool
}

var stateColors = map[string]aec.ANSI{
	"running":    aec.YellowF,
	"succeeded":  aec.GreenF,
	"failed":     aec.RedF,
	"superseded": aec.Faint,
	"skipped":    aec.Faint,
}

func (d *Display) colored(color aec.ANSI, s string) string {
	if d.Plain {
		return s
	}

	return color.Apply(s)
}

// State prints a run state transition, colored by terminal state.
func (d *Display) State(key, state string) {
	color, ok := stateColors[state]
	if !ok {
		color = aec.DefaultF
	}

	fmt.Fprintf(d.Output, "%s %s\n", d.colored(aec.Bold, key), d.colored(color, state))
}

// Step prints a build step heading.
func (d *Display) Step(name string) {
	fmt.Fprintf(d.Output, "%s %s\n", d.colored(aec.CyanF, "==>"), name)
}

// Note prints an indented detail line under the current step.
func (d *Display) Note(format string, args ...interface{}) {
	fmt.Fprintf(d.Output, "    %s\n", fmt.Sprintf(format, args...))
}
