package scripts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// operators maps each assertion operator to whether it takes an operand.
var operators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "notIn": true, "contains": true, "notContains": true,
	"length": true, "matches": true, "notMatches": true, "startsWith": true, "endsWith": true,
	"between": true,
	"isDefined": false, "isUndefined": false, "isNull": false,
	"isEmpty": false, "isNotEmpty": false, "isTruthy": false, "isFalsy": false,
	"isNumber": false, "isString": false, "isBoolean": false, "isArray": false, "isJson": false,
}

// parseAssertion splits "gte 200" into operator and operand. A value with no
// known operator is an equality check.
func parseAssertion(rhs string) (string, string) {
	rhs = strings.TrimSpace(rhs)
	op, rest, _ := strings.Cut(rhs, " ")
	if binary, known := operators[op]; known {
		if !binary {
			return op, ""
		}
		return op, strings.TrimSpace(rest)
	}
	return "eq", rhs
}

type observed struct {
	value   any
	defined bool
	truthy  bool
}

func observe(v goja.Value) observed {
	if v == nil || goja.IsUndefined(v) {
		return observed{}
	}
	return observed{value: normalize(v.Export()), defined: true, truthy: v.ToBoolean()}
}

func checkAssertion(op string, got observed, operand string) error {
	expected := literal(operand)
	fail := func(verb string) error {
		return fmt.Errorf("expected %s to %s %s", show(got.value), verb, operand)
	}
	failUnary := func(verb string) error {
		return fmt.Errorf("expected %s to %s", show(got.value), verb)
	}

	switch op {
	case "eq":
		if !deepEqual(got.value, expected) {
			return fail("equal")
		}
	case "neq":
		if deepEqual(got.value, expected) {
			return fail("not equal")
		}
	case "gt", "gte", "lt", "lte":
		a, aok := toNumber(got.value)
		b, bok := toNumber(expected)
		if !aok || !bok {
			return fmt.Errorf("%s needs numeric operands, got %s and %s", op, show(got.value), operand)
		}
		ok := map[string]bool{"gt": a > b, "gte": a >= b, "lt": a < b, "lte": a <= b}[op]
		if !ok {
			return fail(map[string]string{"gt": "be above", "gte": "be at least", "lt": "be below", "lte": "be at most"}[op])
		}
	case "between":
		lo, hi, _ := strings.Cut(operand, ",")
		a, aok := toNumber(got.value)
		l, lok := toNumber(literal(lo))
		h, hok := toNumber(literal(hi))
		if !aok || !lok || !hok || a < l || a > h {
			return fail("be between")
		}
	case "in", "notIn":
		found := false
		for _, item := range list(operand) {
			if deepEqual(got.value, item) {
				found = true
				break
			}
		}
		if found != (op == "in") {
			return fail(map[bool]string{true: "be one of", false: "not be one of"}[op == "in"])
		}
	case "contains", "notContains":
		if contains(got.value, expected) != (op == "contains") {
			return fail(map[bool]string{true: "contain", false: "not contain"}[op == "contains"])
		}
	case "length":
		n, ok := toNumber(expected)
		if !ok || float64(lengthOf(got.value)) != n {
			return fail("have length")
		}
	case "startsWith", "endsWith":
		s, ok := got.value.(string)
		prefix := fmt.Sprint(expected)
		match := ok && ((op == "startsWith" && strings.HasPrefix(s, prefix)) || (op == "endsWith" && strings.HasSuffix(s, prefix)))
		if !match {
			return fail(map[bool]string{true: "start with", false: "end with"}[op == "startsWith"])
		}
	case "matches", "notMatches":
		re, err := regexp.Compile(strings.Trim(operand, "/"))
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %v", operand, err)
		}
		if re.MatchString(fmt.Sprint(got.value)) != (op == "matches") {
			return fail(map[bool]string{true: "match", false: "not match"}[op == "matches"])
		}
	case "isDefined":
		if !got.defined {
			return failUnary("be defined")
		}
	case "isUndefined":
		if got.defined {
			return failUnary("be undefined")
		}
	case "isNull":
		if !got.defined || got.value != nil {
			return failUnary("be null")
		}
	case "isEmpty", "isNotEmpty":
		empty := got.value == nil || lengthOf(got.value) == 0
		if empty != (op == "isEmpty") {
			return failUnary(map[bool]string{true: "be empty", false: "not be empty"}[op == "isEmpty"])
		}
	case "isTruthy":
		if !got.truthy {
			return failUnary("be truthy")
		}
	case "isFalsy":
		if got.truthy {
			return failUnary("be falsy")
		}
	case "isNumber":
		if _, ok := got.value.(float64); !ok {
			return failUnary("be a number")
		}
	case "isString":
		if _, ok := got.value.(string); !ok {
			return failUnary("be a string")
		}
	case "isBoolean":
		if _, ok := got.value.(bool); !ok {
			return failUnary("be a boolean")
		}
	case "isArray":
		if _, ok := got.value.([]any); !ok {
			return failUnary("be an array")
		}
	case "isJson":
		if _, ok := got.value.(map[string]any); !ok {
			return failUnary("be an object")
		}
	default:
		return fmt.Errorf("unknown assertion operator %q", op)
	}
	return nil
}

// literal reads an operand the way a user types it: numbers, booleans,
// null and quoted strings are typed, anything else is a bare string.
func literal(raw string) any {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if len(raw) >= 2 {
		if q := raw[0]; (q == '"' || q == '\'') && raw[len(raw)-1] == q {
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}

func list(raw string) []any {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	var out []any
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		out = append(out, literal(part))
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func lengthOf(v any) int {
	switch x := v.(type) {
	case string:
		return len([]rune(x))
	case []any:
		return len(x)
	case map[string]any:
		return len(x)
	}
	return -1
}

func show(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}
