// Package confirm asks the operator to approve sensitive operations before
// the device performs them.
package confirm

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Decision is the operator's answer to a prompt
type Decision int

const (
	Reject Decision = iota
	Approve
	// ApproveAll approves this prompt and every later prompt of the same
	// command until the session is reset
	ApproveAll
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case ApproveAll:
		return "approve_all"
	default:
		return "reject"
	}
}

// Field is one labelled value shown with a prompt
type Field struct {
	Label string
	Value string
}

// Prompt describes the operation awaiting approval
type Prompt struct {
	Command  string
	Title    string
	Fields   []Field
	AllowAll bool
}

// String renders the prompt the way the terminal shows it
func (p Prompt) String() string {
	var sb strings.Builder
	sb.WriteString(p.Title)
	for _, f := range p.Fields {
		fmt.Fprintf(&sb, "\n  %s: %s", f.Label, f.Value)
	}
	return sb.String()
}

// Confirmer decides on a prompt. Implementations may block until the
// operator answers or ctx is done.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (Decision, error)
}

// Static answers every prompt with the same decision
type Static Decision

// Confirm implements Confirmer
func (s Static) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	d := Decision(s)
	if d == ApproveAll && !p.AllowAll {
		d = Approve
	}
	return d, nil
}

// Func adapts a function to Confirmer
type Func func(ctx context.Context, p Prompt) (Decision, error)

// Confirm implements Confirmer
func (f Func) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	return f(ctx, p)
}

// Confirmation modes accepted in configuration
const (
	ModePrompt  = "prompt"
	ModeApprove = "approve"
	ModeDeny    = "deny"
)

// New returns the Confirmer for a configured mode. Prompts go to out and
// answers come from in.
func New(mode string, in io.Reader, out io.Writer) (Confirmer, error) {
	switch mode {
	case ModePrompt:
		return &Terminal{In: in, Out: out}, nil
	case ModeApprove:
		return Static(Approve), nil
	case ModeDeny:
		return Static(Reject), nil
	default:
		return nil, fmt.Errorf("unknown confirmation mode %q", mode)
	}
}
