package intern

import (
	"fmt"
	"io"

	"github.com/RowanDark/strintern/stats"
)

// Dump writes the strong and weak counts, and the event counters when a
// tracker is attached. The format is for humans and may change.
func (t *InternTable) Dump(w io.Writer) error {
	t.mu.Lock()
	strong, weak := t.strong.size(), t.weak.size()
	strongGens, weakGens := len(t.strong.generations), len(t.weak.generations)
	t.mu.Unlock()

	if _, err := fmt.Fprintf(w, "Intern table: %d strong; %d weak\n", strong, weak); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Generations: %d strong; %d weak\n", strongGens, weakGens); err != nil {
		return err
	}
	if t.tracker != nil {
		if _, err := fmt.Fprintf(w, "Intern stats: %s\n", stats.Render(t.tracker.Snapshot())); err != nil {
			return err
		}
	}
	return nil
}
