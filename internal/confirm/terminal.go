package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal prompts on Out and reads the answer from In
type Terminal struct {
	In  io.Reader
	Out io.Writer

	once    sync.Once
	answers chan string
}

func (t *Terminal) start() {
	t.answers = make(chan string)
	go func() {
		defer close(t.answers)
		scanner := bufio.NewScanner(t.In)
		for scanner.Scan() {
			t.answers <- scanner.Text()
		}
	}()
}

// Confirm implements Confirmer. Anything other than an explicit yes is a
// rejection.
func (t *Terminal) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	t.once.Do(t.start)

	choices := "[y]es/[n]o"
	if p.AllowAll {
		choices = "[y]es/[a]ll/[n]o"
	}
	if _, err := fmt.Fprintf(t.Out, "\n%s\nApprove? %s: ", p, choices); err != nil {
		return Reject, err
	}

	select {
	case <-ctx.Done():
		return Reject, ctx.Err()
	case answer, ok := <-t.answers:
		if !ok {
			return Reject, io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return Approve, nil
		case "a", "all":
			if p.AllowAll {
				return ApproveAll, nil
			}
			return Approve, nil
		default:
			return Reject, nil
		}
	}
}
