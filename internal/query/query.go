package query

// AggregateFn enumerates the supported aggregate functions.
type AggregateFn uint8

const (
	Count AggregateFn = iota
	Sum
	Avg
	Min
	Max
	First
	Last
)

// Query is any top-level statement the executor can run.
type Query interface{ isQuery() }

// Select returns events from the event stream, optionally filtered,
// ordered, and limited. Columns records the parsed column list; the
// executor returns whole events and does not project them.
type Select struct {
	Columns []string
	From    string
	Where   Expr
	OrderBy string
	Desc    bool
	Limit   int // 0 means unlimited
}

// Aggregate walks the (optionally filtered, optionally grouped) event
// stream and reduces Column through Fn.
type Aggregate struct {
	Fn      AggregateFn
	Column  string
	Where   Expr
	GroupBy string
}

// Temporal restricts Inner to a [Since, Until] timestamp window before
// running it; Window is reserved for future bucketed aggregation
// (bucket semantics are not yet defined).
type Temporal struct {
	Inner Query
	Since *int64
	Until *int64
	Window *int64
}

// Diff reports the events recorded for world_uri strictly after t1 and
// up to and including t2.
type Diff struct {
	WorldURI string
	T1       int64
	T2       int64
}

// Custom is an escape hatch for integration-defined query extensions,
// opaque to the core executor.
type Custom struct {
	Name string
	Args []Value
}

func (Select) isQuery()    {}
func (Aggregate) isQuery() {}
func (Temporal) isQuery()  {}
func (Diff) isQuery()      {}
func (Custom) isQuery()    {}
