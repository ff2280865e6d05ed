package scripts

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dop251/goja"
)

func (s *session) test(name string, callable goja.Callable) {
	start := s.now()
	passed := true
	message := ""

	defer func() {
		if r := recover(); r != nil {
			passed = false
			message = fmt.Sprintf("panic: %v", r)
		}
		s.out.Results = append(s.out.Results, TestResult{
			Name:    name,
			Passed:  passed,
			Error:   message,
			Elapsed: s.now().Sub(start),
		})
	}()

	if callable == nil {
		passed = false
		message = "test requires a function argument"
		return
	}
	if _, err := callable(goja.Undefined()); err != nil {
		var interrupted *goja.InterruptedError
		passed = false
		message = exceptionMessage(err)
		if errors.As(err, &interrupted) {
			// re-arm so the interruption reaches the top-level run
			s.vm.Interrupt(interrupted.Value())
		}
	}
}

func (s *session) expect(actual goja.Value) *goja.Object {
	if actual == nil {
		actual = goja.Undefined()
	}
	obj := s.matchers(actual, false)
	_ = obj.Set("not", s.matchers(actual, true))
	return obj
}

func (s *session) matchers(actual goja.Value, negate bool) *goja.Object {
	obj := s.vm.NewObject()
	check := func(ok bool, verb string, expected ...goja.Value) {
		if ok != negate {
			return
		}
		msg := "expected " + describe(actual)
		if negate {
			msg += " not"
		}
		msg += " " + verb
		if len(expected) > 0 {
			msg += " " + describe(expected[0])
		}
		panic(s.vm.NewGoError(errors.New(msg)))
	}

	set := func(name string, fn any) {
		_ = obj.Set(name, fn)
	}
	set("toBe", func(expected goja.Value) {
		if expected == nil {
			expected = goja.Undefined()
		}
		check(actual.StrictEquals(expected), "to be", expected)
	})
	set("toEqual", func(expected goja.Value) {
		check(deepEqual(actual.Export(), expected.Export()), "to equal", expected)
	})
	set("toBeTruthy", func() {
		check(actual.ToBoolean(), "to be truthy")
	})
	set("toBeFalsy", func() {
		check(!actual.ToBoolean(), "to be falsy")
	})
	set("toBeDefined", func() {
		check(!goja.IsUndefined(actual), "to be defined")
	})
	set("toBeUndefined", func() {
		check(goja.IsUndefined(actual), "to be undefined")
	})
	set("toBeNull", func() {
		check(goja.IsNull(actual), "to be null")
	})
	set("toBeGreaterThan", func(expected goja.Value) {
		check(actual.ToFloat() > expected.ToFloat(), "to be greater than", expected)
	})
	set("toBeLessThan", func(expected goja.Value) {
		check(actual.ToFloat() < expected.ToFloat(), "to be less than", expected)
	})
	set("toContain", func(expected goja.Value) {
		check(contains(actual.Export(), expected.Export()), "to contain", expected)
	})
	set("toHaveProperty", func(name string) {
		ok := false
		if o, isObj := actual.(*goja.Object); isObj {
			ok = o.Get(name) != nil
		}
		check(ok, "to have property "+name)
	})
	return obj
}

func describe(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	switch exported := v.Export().(type) {
	case string:
		return fmt.Sprintf("%q", exported)
	case map[string]any, []any:
		if data, err := json.Marshal(exported); err == nil {
			return string(data)
		}
	}
	return v.String()
}

// normalize folds numbers to float64 and converts nested values through
// JSON so exported script values compare structurally.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case map[string]any, []any, map[string]string:
		data, err := json.Marshal(n)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return v
		}
		return out
	}
	return v
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func contains(haystack, needle any) bool {
	switch h := normalize(haystack).(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []any:
		for _, item := range h {
			if deepEqual(item, needle) {
				return true
			}
		}
	case map[string]any:
		if key, ok := needle.(string); ok {
			_, found := h[key]
			return found
		}
	}
	return false
}
