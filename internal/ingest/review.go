package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/resumemind/internal/graph"
)

// ErrCancelled is returned when the user cancels the review.
var ErrCancelled = errors.New("cancelled by user")

// ErrNoRelationships is returned when an extraction has nothing to review.
var ErrNoRelationships = errors.New("no relationships were extracted")

// Action is a reviewer decision on one triple.
type Action int

const (
	Accept Action = iota
	Reject
	Edit
	AcceptAll
	Cancel
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Edit:
		return "edit"
	case AcceptAll:
		return "accept all"
	case Cancel:
		return "cancel"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision answers a ReviewItem. Triple carries the new values for Edit.
type Decision struct {
	Action Action
	Triple graph.Triple
}

// ReviewItem is one triple presented to the reviewer.
type ReviewItem struct {
	Index    int
	Total    int
	Pass     int
	Triple   graph.Triple
	Accepted bool
	// Problem explains why the previous edit of this triple was refused.
	Problem string
}

// Reviewer decides which extracted triples are written to the graph.
type Reviewer interface {
	Review(ctx context.Context, item ReviewItem) (Decision, error)
	// Approve shows the accepted triples and reports whether review is done.
	// Returning false starts another pass.
	Approve(ctx context.Context, accepted []graph.Triple, rejected int) (bool, error)
}

// AcceptAllReviewer accepts everything without asking.
type AcceptAllReviewer struct{}

func (AcceptAllReviewer) Review(context.Context, ReviewItem) (Decision, error) {
	return Decision{Action: AcceptAll}, nil
}

func (AcceptAllReviewer) Approve(context.Context, []graph.Triple, int) (bool, error) {
	return true, nil
}

// ReviewOutcome counts what the reviewer did.
type ReviewOutcome struct {
	Accepted int
	Rejected int
	Edited   int
	Passes   int
}

// ReviewExtraction runs the accept/reject/edit loop over x's triples until the
// reviewer approves or cancels, then keeps only accepted triples in x.
// Entities that were only referenced by rejected triples are removed.
// An extraction without triples is refused before the reviewer is asked.
func ReviewExtraction(ctx context.Context, r Reviewer, x *graph.Extraction) (ReviewOutcome, error) {
	var out ReviewOutcome
	if len(x.Triples) == 0 {
		return out, ErrNoRelationships
	}
	triples := append([]graph.Triple(nil), x.Triples...)
	accepted := make([]bool, len(triples))
	for i := range accepted {
		accepted[i] = true
	}
	edited := map[int]bool{}

	for pass := 1; ; pass++ {
		out.Passes = pass
		problem := ""
	items:
		for i := 0; i < len(triples); i++ {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			d, err := r.Review(ctx, ReviewItem{
				Index: i, Total: len(triples), Pass: pass,
				Triple: triples[i], Accepted: accepted[i], Problem: problem,
			})
			if err != nil {
				return out, err
			}
			problem = ""
			switch d.Action {
			case Accept:
				accepted[i] = true
			case Reject:
				accepted[i] = false
			case Edit:
				t, err := applyEdit(triples[i], d.Triple)
				if err != nil {
					problem = err.Error()
					i--
					continue
				}
				triples[i] = t
				accepted[i] = true
				edited[i] = true
			case AcceptAll:
				for j := i; j < len(triples); j++ {
					accepted[j] = true
				}
				break items
			case Cancel:
				return out, ErrCancelled
			default:
				return out, fmt.Errorf("unknown review action %v", d.Action)
			}
		}

		kept := keptTriples(triples, accepted)
		ok, err := r.Approve(ctx, kept, len(triples)-len(kept))
		if err != nil {
			return out, err
		}
		if ok {
			out.Accepted = len(kept)
			out.Rejected = len(triples) - len(kept)
			out.Edited = len(edited)
			applyReview(x, triples, accepted)
			return out, nil
		}
	}
}

// applyEdit validates an edited triple. Empty fields keep their old value.
func applyEdit(old, edit graph.Triple) (graph.Triple, error) {
	t := old
	if s := strings.TrimSpace(edit.Subject); s != "" {
		t.Subject = s
	}
	if o := strings.TrimSpace(edit.Object); o != "" {
		t.Object = o
	}
	if p := strings.TrimSpace(edit.Predicate); p != "" {
		t.Predicate = graph.Sanitize(p)
		if !graph.IsRelationshipType(t.Predicate) {
			return old, fmt.Errorf("unknown relationship type %q, use one of %s",
				p, strings.Join(graph.RelationshipTypes, ", "))
		}
	}
	if t.Subject != old.Subject {
		t.SubjectDescription = ""
	}
	if t.Object != old.Object {
		t.ObjectDescription = ""
	}
	return t, nil
}

func keptTriples(triples []graph.Triple, accepted []bool) []graph.Triple {
	kept := make([]graph.Triple, 0, len(triples))
	for i, t := range triples {
		if accepted[i] {
			kept = append(kept, t)
		}
	}
	return kept
}

func applyReview(x *graph.Extraction, triples []graph.Triple, accepted []bool) {
	referenced := map[string]bool{}
	for _, t := range x.Triples {
		referenced[t.Subject] = true
		referenced[t.Object] = true
	}

	kept := keptTriples(triples, accepted)
	used := map[string]bool{}
	for _, t := range kept {
		used[t.Subject] = true
		used[t.Object] = true
		if _, ok := x.Entities[t.Subject]; !ok {
			x.Entities[t.Subject] = t.SubjectType
		}
		if _, ok := x.Entities[t.Object]; !ok {
			x.Entities[t.Object] = t.ObjectType
		}
	}
	for name := range x.Entities {
		if referenced[name] && !used[name] {
			delete(x.Entities, name)
			delete(x.EntityDescriptions, name)
		}
	}
	x.Triples = kept
	x.AlignTypes()
}
