package testutil

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// AssertEqual fails the test if expected and actual are not deeply equal.
func AssertEqual(t testing.TB, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf(
			"Not equal: \nexpected: %v\nactual  : %v\n%s",
			expected,
			actual,
			formatMsgAndArgs(msgAndArgs...),
		)
	}
}

// AssertNotEqual fails the test if expected and actual are deeply equal.
func AssertNotEqual(t testing.TB, expected, actual any, msgAndArgs ...any) {
	t.Helper()
	if reflect.DeepEqual(expected, actual) {
		t.Errorf(
			"Expected objects to be not equal, but they were:\nExpected: %v\nActual  : %v\n%s",
			expected,
			actual,
			formatMsgAndArgs(msgAndArgs...),
		)
	}
}

// AssertTrue fails the test if the condition is false.
func AssertTrue(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if !condition {
		t.Errorf("Expected condition to be true\n%s", formatMsgAndArgs(msgAndArgs...))
	}
}

// AssertFalse fails the test if the condition is true.
func AssertFalse(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if condition {
		t.Errorf("Expected condition to be false\n%s", formatMsgAndArgs(msgAndArgs...))
	}
}

// AssertNoError fails the test if err is non-nil.
func AssertNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Errorf("Unexpected error: %v\n%s", err, formatMsgAndArgs(msgAndArgs...))
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected an error but got nil\n%s", formatMsgAndArgs(msgAndArgs...))
	}
}

// AssertErrorIs fails the test if errors.Is(err, target) is false.
func AssertErrorIs(t testing.TB, err, target error, msgAndArgs ...any) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf(
			"Expected error to be %v but got %v\n%s",
			target,
			err,
			formatMsgAndArgs(msgAndArgs...),
		)
	}
}

// AssertLen fails the test if the object's length differs from the expectation.
func AssertLen(t testing.TB, object any, length int, msgAndArgs ...any) {
	t.Helper()
	v := reflect.ValueOf(object)
	if v.Len() != length {
		t.Errorf(
			"Length not equal: \nexpected: %d\nactual  : %d\n%s",
			length,
			v.Len(),
			formatMsgAndArgs(msgAndArgs...),
		)
	}
}

// AssertNil fails the test if the value is non-nil.
func AssertNil(t testing.TB, actual any, msgAndArgs ...any) {
	t.Helper()
	if !isNil(actual) {
		t.Fatalf("Expected value to be nil, but was: %#v\n%s", actual, formatMsgAndArgs(msgAndArgs...))
	}
}

// AssertNotNil fails the test if the value is nil.
func AssertNotNil(t testing.TB, actual any, msgAndArgs ...any) {
	t.Helper()
	if isNil(actual) {
		t.Fatalf("Expected value to be non-nil\n%s", formatMsgAndArgs(msgAndArgs...))
	}
}

// RequireNoError stops the test immediately if err is non-nil.
func RequireNoError(t testing.TB, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v\n%s", err, formatMsgAndArgs(msgAndArgs...))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

func formatMsgAndArgs(msgAndArgs ...any) string {
	if len(msgAndArgs) == 0 || msgAndArgs[0] == nil {
		return ""
	}
	if len(msgAndArgs) == 1 {
		if msg, ok := msgAndArgs[0].(string); ok {
			return msg
		}
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
