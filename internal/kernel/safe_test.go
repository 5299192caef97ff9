package kernel

import (
	"errors"
	"strings"
	"testing"
)

func TestRunSafely(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("handler failed")

	tests := []struct {
		name      string
		fn        func() error
		wantErr   bool
		wantPanic bool
		wantIs    error
	}{
		{name: "success", fn: func() error { return nil }},
		{name: "error is tagged", fn: func() error { return sentinel }, wantErr: true, wantIs: sentinel},
		{name: "panic is recovered", fn: func() error { panic("boom") }, wantErr: true, wantPanic: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := runSafely("module relay OnStart", testCase.fn)
			if !testCase.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.HasPrefix(err.Error(), "module relay OnStart: ") {
				t.Fatalf("error = %v, want scope prefix", err)
			}
			if testCase.wantIs != nil && !errors.Is(err, testCase.wantIs) {
				t.Fatalf("error = %v, want %v", err, testCase.wantIs)
			}

			var panicErr *PanicError
			if got := errors.As(err, &panicErr); got != testCase.wantPanic {
				t.Fatalf("errors.As PanicError = %v, want %v", got, testCase.wantPanic)
			}
			if testCase.wantPanic && (panicErr.Value != "boom" || len(panicErr.Stack) == 0) {
				t.Fatalf("panic error = %+v, want value and stack", panicErr)
			}
		})
	}
}
