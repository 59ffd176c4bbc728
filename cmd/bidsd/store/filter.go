package store

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/zer0-os/bids-core/bids"
)

// Predicate is an immutable SQL boolean expression using ? placeholders.
// Combining predicates always returns a new value.
type Predicate struct {
	clause string
	args   []interface{}
}

// ItemIDIn matches bids for any of the item ids.
func ItemIDIn(itemIDs []string) Predicate {
	return Predicate{clause: "item_id = ANY(?)", args: []interface{}{pq.Array(itemIDs)}}
}

// AccountIs matches bids of account, ignoring case.
func AccountIs(account string) Predicate {
	return Predicate{clause: "lower(account) = lower(?)", args: []interface{}{account}}
}

// And returns a predicate matching when every non-empty predicate matches.
func And(preds ...Predicate) Predicate {
	var clauses []string
	var args []interface{}
	for _, p := range preds {
		if p.clause == "" {
			continue
		}
		clauses = append(clauses, "("+p.clause+")")
		args = append(args, p.args...)
	}
	return Predicate{clause: strings.Join(clauses, " AND "), args: args}
}

// StatusIs matches bids by cancellation status. StatusAll returns an empty predicate.
func StatusIs(f bids.StatusFilter) Predicate {
	switch f {
	case bids.StatusActive:
		return Predicate{clause: "cancel_date IS NULL OR cancel_date < 1"}
	case bids.StatusCancelled:
		return Predicate{clause: "cancel_date >= 1"}
	default:
		return Predicate{}
	}
}

// WithStatus returns base restricted by the status filter. base isn't modified.
func WithStatus(base Predicate, f bids.StatusFilter) Predicate {
	return And(base, StatusIs(f))
}

// Render returns the clause with postgres positional placeholders, and its args.
func (p Predicate) Render() (string, []interface{}) {
	var sb strings.Builder
	n := 0
	for _, r := range p.clause {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	args := make([]interface{}, len(p.args))
	copy(args, p.args)
	return sb.String(), args
}
