package reconcilecmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nduati/equipbot/internal/directory"
	"github.com/nduati/equipbot/internal/reconcile"
)

// stdinResolver asks the operator to resolve names the scorer could not
// match. It keeps prompting until it gets a roster member's Slack id or
// an explicit "N" rejection, so one typo does not abort a long run.
type stdinResolver struct {
	in   *bufio.Reader
	out  io.Writer
	byID map[string]bool
}

func newStdinResolver(in io.Reader, out io.Writer, identities []reconcile.Identity) *stdinResolver {
	byID := make(map[string]bool, len(identities))
	for _, identity := range identities {
		byID[identity.ID] = true
	}
	return &stdinResolver{
		in:   bufio.NewReader(in),
		out:  out,
		byID: byID,
	}
}

func (r *stdinResolver) Resolve(ctx context.Context, ownerName string, record directory.EquipmentRecord) (reconcile.Resolution, error) {
	fmt.Fprintf(r.out, "\nNo confident match for owner %q (equipment %s).\n", ownerName, record.EquipmentID)
	for {
		if err := ctx.Err(); err != nil {
			return reconcile.Resolution{}, err
		}
		fmt.Fprint(r.out, "Enter their Slack id, or N to drop the record: ")
		line, err := r.in.ReadString('\n')
		if err != nil && line == "" {
			return reconcile.Resolution{}, fmt.Errorf("read operator input: %w", err)
		}
		answer := strings.TrimSpace(line)
		switch {
		case answer == "":
			continue
		case strings.EqualFold(answer, "N"):
			return reconcile.Resolution{Reject: true}, nil
		case r.byID[answer]:
			return reconcile.Resolution{SlackID: answer}, nil
		default:
			fmt.Fprintf(r.out, "%q is not a known Slack id in this workspace.\n", answer)
		}
	}
}
