package query

import (
	"fmt"
	"sort"

	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/timeline"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// Executor runs Query values against an event log, with an optional
// timeline manager for Diff queries.
type Executor struct {
	log       *eventlog.Log
	timelines *timeline.Manager
}

// New constructs an Executor. timelines may be nil if Diff queries
// won't be run.
func New(log *eventlog.Log, timelines *timeline.Manager) *Executor {
	return &Executor{log: log, timelines: timelines}
}

// Run dispatches q to the matching execution path.
func (ex *Executor) Run(q Query) (any, error) {
	switch stmt := q.(type) {
	case Select:
		return ex.runSelect(stmt)
	case Aggregate:
		return ex.runAggregate(stmt)
	case Temporal:
		return ex.runTemporal(stmt)
	case Diff:
		return ex.runDiff(stmt)
	case Custom:
		return nil, fmt.Errorf("custom query %q: %w", stmt.Name, ewigerr.ErrNotImplemented)
	default:
		return nil, fmt.Errorf("unknown query type %T: %w", q, ewigerr.ErrNotImplemented)
	}
}

func (ex *Executor) filtered(where Expr) ([]eventlog.Event, error) {
	var out []eventlog.Event
	var evalErr error
	ex.log.Iterate(func(ev eventlog.Event) bool {
		if where == nil {
			out = append(out, ev)
			return true
		}
		v, err := Eval(where, ev)
		if err != nil {
			evalErr = err
			return false
		}
		if truthy(v) {
			out = append(out, ev)
		}
		return true
	})
	return out, evalErr
}

func (ex *Executor) runSelect(sel Select) ([]eventlog.Event, error) {
	events, err := ex.filtered(sel.Where)
	if err != nil {
		return nil, err
	}
	if sel.OrderBy != "" {
		sortErr := sortEventsBy(events, sel.OrderBy, sel.Desc)
		if sortErr != nil {
			return nil, sortErr
		}
	}
	if sel.Limit > 0 && sel.Limit < len(events) {
		events = events[:sel.Limit]
	}
	return events, nil
}

func sortEventsBy(events []eventlog.Event, column string, desc bool) error {
	var sortErr error
	sort.SliceStable(events, func(i, j int) bool {
		a, err := columnValue(events[i], column)
		if err != nil {
			sortErr = err
			return false
		}
		b, err := columnValue(events[j], column)
		if err != nil {
			sortErr = err
			return false
		}
		less := lessValue(a, b)
		if desc {
			return !less && !a.Equal(b)
		}
		return less
	})
	return sortErr
}

func lessValue(a, b Value) bool {
	if af, ok := a.AsFloat64(); ok {
		if bf, ok := b.AsFloat64(); ok {
			return af < bf
		}
	}
	return a.Str < b.Str
}

func (ex *Executor) runAggregate(agg Aggregate) (any, error) {
	events, err := ex.filtered(agg.Where)
	if err != nil {
		return nil, err
	}
	if agg.GroupBy == "" {
		return reduce(events, agg.Fn, agg.Column)
	}

	groups := make(map[string][]eventlog.Event)
	var order []string
	for _, ev := range events {
		key, err := columnValue(ev, agg.GroupBy)
		if err != nil {
			return nil, err
		}
		k := key.String()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}
	out := make(map[string]Value, len(groups))
	for _, k := range order {
		v, err := reduce(groups[k], agg.Fn, agg.Column)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func reduce(events []eventlog.Event, fn AggregateFn, column string) (Value, error) {
	if fn == Count {
		return IntValue(int64(len(events))), nil
	}
	if len(events) == 0 {
		return NullValue(), nil
	}
	switch fn {
	case First:
		return columnValue(events[0], column)
	case Last:
		return columnValue(events[len(events)-1], column)
	}

	var sum, min, max float64
	min = 0
	max = 0
	first := true
	for _, ev := range events {
		v, err := columnValue(ev, column)
		if err != nil {
			return Value{}, err
		}
		f, ok := v.AsFloat64()
		if !ok {
			return Value{}, fmt.Errorf("aggregate over non-numeric column %q: %w", column, ewigerr.ErrInvalidInput)
		}
		sum += f
		if first || f < min {
			min = f
		}
		if first || f > max {
			max = f
		}
		first = false
	}
	switch fn {
	case Sum:
		return FloatValue(sum), nil
	case Avg:
		return FloatValue(sum / float64(len(events))), nil
	case Min:
		return FloatValue(min), nil
	case Max:
		return FloatValue(max), nil
	default:
		return Value{}, fmt.Errorf("unknown aggregate function: %w", ewigerr.ErrNotImplemented)
	}
}

func (ex *Executor) runTemporal(t Temporal) (any, error) {
	inner := t.Inner
	sel, ok := inner.(Select)
	if !ok {
		return nil, fmt.Errorf("temporal wrapping non-Select query: %w", ewigerr.ErrNotImplemented)
	}
	windowed := withinWindow(sel.Where, t.Since, t.Until)
	sel.Where = windowed
	return ex.runSelect(sel)
}

func withinWindow(where Expr, since, until *int64) Expr {
	out := where
	if since != nil {
		bound := BinaryExpr{Op: OpGte, Left: ColumnExpr{Name: "timestamp"}, Right: LiteralExpr{Value: IntValue(*since)}}
		out = andExpr(out, bound)
	}
	if until != nil {
		bound := BinaryExpr{Op: OpLte, Left: ColumnExpr{Name: "timestamp"}, Right: LiteralExpr{Value: IntValue(*until)}}
		out = andExpr(out, bound)
	}
	return out
}

func andExpr(a, b Expr) Expr {
	if a == nil {
		return b
	}
	return BinaryExpr{Op: OpAnd, Left: a, Right: b}
}

// DiffResult reports what changed for a world between two timestamps.
type DiffResult struct {
	Before wireformat.Hash
	After  wireformat.Hash
	Events []eventlog.Event
}

func (ex *Executor) runDiff(d Diff) (DiffResult, error) {
	if ex.timelines == nil {
		return DiffResult{}, fmt.Errorf("diff query requires a timeline manager: %w", ewigerr.ErrInvalidInput)
	}
	idx := ex.timelines.Index(d.WorldURI)
	before, err := idx.At(d.T1)
	if err != nil {
		before = wireformat.ZeroHash
	}
	after, err := idx.At(d.T2)
	if err != nil {
		return DiffResult{}, err
	}

	var events []eventlog.Event
	var iterErr error
	ex.log.Iterate(func(ev eventlog.Event) bool {
		if ev.WorldURI == d.WorldURI && ev.Timestamp > d.T1 && ev.Timestamp <= d.T2 {
			events = append(events, ev)
		}
		return true
	})
	if iterErr != nil {
		return DiffResult{}, iterErr
	}
	return DiffResult{Before: before, After: after, Events: events}, nil
}
