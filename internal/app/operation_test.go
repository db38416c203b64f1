package app

import (
	"errors"
	"testing"
)

func TestNewOperation(t *testing.T) {
	op := NewOperation("set", "aria.png name=Aria")

	if op.Operation != "set" || op.Parameters != "aria.png name=Aria" {
		t.Errorf("op = %+v", op)
	}
	if op.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", op.Status, StatusSuccess)
	}
	if op.Persisted() {
		t.Error("new operation reports Persisted")
	}

	op.ID = 7
	if !op.Persisted() {
		t.Error("operation with ID reports not Persisted")
	}
}

func TestOperation_Observe(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		errs []error
		want string
	}{
		{name: "no calls", want: StatusSuccess},
		{name: "success", errs: []error{nil}, want: StatusSuccess},
		{name: "failure", errs: []error{boom}, want: StatusError},
		{name: "failure then success", errs: []error{boom, nil}, want: StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("library scan", "")
			for _, err := range tt.errs {
				if got := op.Observe(err); got != err {
					t.Errorf("Observe() = %v, want %v", got, err)
				}
			}
			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
		})
	}
}
