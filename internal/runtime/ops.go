// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package runtime

import "witchlight.dev/luavm/internal/bytecode"

// importConstant converts a compile-time [bytecode.Constant] into a
// runtime [Value], interning string literals into the state's string
// table so that two prototypes referencing the same literal share one
// *stringObj.
func (th *Thread) importConstant(c bytecode.Constant) Value {
	if c.IsNil() {
		return None{}
	}
	if b, ok := c.Bool(); ok {
		return Boolean(b)
	}
	if i, ok := c.Int64(); ok {
		return Integer(i)
	}
	if f, ok := c.Float64(); ok {
		return Float(f)
	}
	if s, ok := c.String(); ok {
		return th.global.strings.intern(s)
	}
	return None{}
}

// length implements the `#` operator: tables consult __len if present,
// strings return their byte length, everything else requires a
// metamethod.
func (th *Thread) length(v Value) (Value, error) {
	switch v := v.(type) {
	case *stringObj:
		return Integer(len(v.s)), nil
	case *table:
		if mm := v.fastAbsent("__len"); !IsNone(mm) && isCallable(mm) {
			return th.callValue(mm, []Value{v})
		}
		return v.Len(), nil
	default:
		mm := th.global.metamethod(v, "__len")
		if IsNone(mm) || !isCallable(mm) {
			return None{}, newTypeError(v, "get length of")
		}
		return th.callValue(mm, []Value{v})
	}
}

// concat implements the `..` operator over a run of registers, right to
// left, matching Lua's right-associativity and its "coerce numbers,
// otherwise fall to __concat" rule.
func (th *Thread) concat(vs []Value) (Value, error) {
	if len(vs) == 0 {
		return &stringObj{s: ""}, nil
	}
	acc := vs[len(vs)-1]
	for i := len(vs) - 2; i >= 0; i-- {
		left := vs[i]
		if concatenable(left) && concatenable(acc) {
			acc = &stringObj{s: ToString(left) + ToString(acc)}
			continue
		}
		v, err := th.concatMeta(left, acc)
		if err != nil {
			return None{}, err
		}
		acc = v
	}
	return acc, nil
}

func concatenable(v Value) bool {
	switch v.(type) {
	case Integer, Float, *stringObj:
		return true
	default:
		return false
	}
}

// valuesEqual implements `==`, falling to __eq only when both operands
// are tables or both are userdata and raw equality says they differ.
func (th *Thread) valuesEqual(a, b Value) (bool, error) {
	if RawEqual(a, b) {
		return true, nil
	}
	ta, aIsTable := a.(*table)
	tb, bIsTable := b.(*table)
	if aIsTable && bIsTable {
		if mm := ta.fastAbsent("__eq"); !IsNone(mm) {
			return th.eqMetaWith(mm, ta, tb)
		}
		return th.eqMeta(ta, tb)
	}
	ua, aIsUser := a.(*userdataObj)
	ub, bIsUser := b.(*userdataObj)
	if aIsUser && bIsUser {
		return th.eqMeta(ua, ub)
	}
	return false, nil
}

func (th *Thread) eqMeta(a, b Value) (bool, error) {
	mm := th.global.metamethod(a, "__eq")
	if IsNone(mm) {
		mm = th.global.metamethod(b, "__eq")
	}
	return th.eqMetaWith(mm, a, b)
}

func (th *Thread) eqMetaWith(mm, a, b Value) (bool, error) {
	if IsNone(mm) || !isCallable(mm) {
		return false, nil
	}
	v, err := th.callValue(mm, []Value{a, b})
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// valuesLess implements `<` (orEqual=false) and `<=` (orEqual=true).
func (th *Thread) valuesLess(orEqual bool, a, b Value) (bool, error) {
	an, aIsNum := numericValue(a)
	bn, bIsNum := numericValue(b)
	if aIsNum && bIsNum {
		if orEqual {
			return an <= bn, nil
		}
		return an < bn, nil
	}
	as, aIsStr := a.(*stringObj)
	bs, bIsStr := b.(*stringObj)
	if aIsStr && bIsStr {
		if orEqual {
			return as.s <= bs.s, nil
		}
		return as.s < bs.s, nil
	}
	event := "__lt"
	if orEqual {
		event = "__le"
	}
	return th.compareMeta(event, a, b)
}

func numericValue(v Value) (float64, bool) {
	switch v := v.(type) {
	case Integer:
		return float64(v), true
	case Float:
		return float64(v), true
	default:
		return 0, false
	}
}
