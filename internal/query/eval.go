package query

import (
	"fmt"

	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/ewigerr"
)

// columnValue substitutes one of the fixed event columns: type,
// timestamp, seq, world_uri, payload.
func columnValue(ev eventlog.Event, name string) (Value, error) {
	switch name {
	case "type":
		return StringValue(ev.Type.String()), nil
	case "timestamp":
		return IntValue(ev.Timestamp), nil
	case "seq":
		return UintValue(ev.Seq), nil
	case "world_uri":
		return StringValue(ev.WorldURI), nil
	case "payload":
		return BytesValue(ev.Payload), nil
	default:
		return Value{}, fmt.Errorf("column %q: %w", name, ewigerr.ErrInvalidInput)
	}
}

// Eval evaluates expr against ev, resolving ColumnExpr via
// columnValue.
func Eval(expr Expr, ev eventlog.Event) (Value, error) {
	switch e := expr.(type) {
	case LiteralExpr:
		return e.Value, nil
	case ColumnExpr:
		return columnValue(ev, e.Name)
	case UnaryExpr:
		return evalUnary(e, ev)
	case BinaryExpr:
		return evalBinary(e, ev)
	case FunctionExpr:
		return evalFunction(e, ev)
	default:
		return Value{}, fmt.Errorf("unknown expression node %T: %w", expr, ewigerr.ErrNotImplemented)
	}
}

func evalUnary(e UnaryExpr, ev eventlog.Event) (Value, error) {
	v, err := Eval(e.Operand, ev)
	if err != nil {
		return Value{}, err
	}
	switch e.Op {
	case OpNot:
		return BoolValue(!truthy(v)), nil
	case OpNeg:
		if f, ok := v.AsFloat64(); ok {
			return FloatValue(-f), nil
		}
		return Value{}, fmt.Errorf("negate non-numeric value: %w", ewigerr.ErrInvalidInput)
	default:
		return Value{}, fmt.Errorf("unknown unary operator: %w", ewigerr.ErrNotImplemented)
	}
}

func evalBinary(e BinaryExpr, ev eventlog.Event) (Value, error) {
	if e.Op == OpAnd || e.Op == OpOr {
		left, err := Eval(e.Left, ev)
		if err != nil {
			return Value{}, err
		}
		if e.Op == OpAnd && !truthy(left) {
			return BoolValue(false), nil
		}
		if e.Op == OpOr && truthy(left) {
			return BoolValue(true), nil
		}
		right, err := Eval(e.Right, ev)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(truthy(right)), nil
	}

	left, err := Eval(e.Left, ev)
	if err != nil {
		return Value{}, err
	}
	right, err := Eval(e.Right, ev)
	if err != nil {
		return Value{}, err
	}

	switch e.Op {
	case OpEq:
		return BoolValue(left.Equal(right)), nil
	case OpNeq:
		return BoolValue(!left.Equal(right)), nil
	case OpLt, OpGt, OpLte, OpGte:
		lf, lok := left.AsFloat64()
		rf, rok := right.AsFloat64()
		if !lok || !rok {
			return Value{}, fmt.Errorf("ordering comparison on non-numeric operand: %w", ewigerr.ErrInvalidInput)
		}
		switch e.Op {
		case OpLt:
			return BoolValue(lf < rf), nil
		case OpGt:
			return BoolValue(lf > rf), nil
		case OpLte:
			return BoolValue(lf <= rf), nil
		default:
			return BoolValue(lf >= rf), nil
		}
	default:
		return Value{}, fmt.Errorf("unknown binary operator: %w", ewigerr.ErrNotImplemented)
	}
}

func evalFunction(e FunctionExpr, ev eventlog.Event) (Value, error) {
	switch e.Name {
	case "len":
		if len(e.Args) != 1 {
			return Value{}, fmt.Errorf("len takes 1 argument: %w", ewigerr.ErrInvalidInput)
		}
		v, err := Eval(e.Args[0], ev)
		if err != nil {
			return Value{}, err
		}
		switch v.Kind {
		case KindString:
			return IntValue(int64(len(v.Str))), nil
		case KindBytes:
			return IntValue(int64(len(v.Bytes))), nil
		default:
			return Value{}, fmt.Errorf("len() on non-string/bytes value: %w", ewigerr.ErrInvalidInput)
		}
	default:
		return Value{}, fmt.Errorf("unknown function %q: %w", e.Name, ewigerr.ErrNotImplemented)
	}
}

func truthy(v Value) bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNull:
		return false
	default:
		return true
	}
}
