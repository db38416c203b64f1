package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "fields",
			args: []string{"name=Aria", "tags=sea, calm"},
			want: map[string]string{"name": "Aria", "tags": "sea, calm"},
		},
		{
			name: "value containing equals",
			args: []string{"scenario=a=b"},
			want: map[string]string{"scenario": "a=b"},
		},
		{
			name: "empty value",
			args: []string{"creator="},
			want: map[string]string{"creator": ""},
		},
		{name: "missing equals", args: []string{"name"}, wantErr: true},
		{name: "missing field", args: []string{"=Aria"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAssignments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseAssignments() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderTable_NotTerminal(t *testing.T) {
	var buf bytes.Buffer
	out := renderTable(&buf,
		[]string{"Name", "Tokens"},
		[][]string{{"Aria", "12"}, {"Nova"}},
		[]columnAlignment{alignLeft, alignRight})

	for _, want := range []string{"Name\tTokens", "Aria\t12"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.ContainsAny(out, "╭│") {
		t.Errorf("output %q has box drawing characters", out)
	}
}

func TestRenderTable_NoHeaders(t *testing.T) {
	if out := renderTable(&bytes.Buffer{}, nil, nil, nil); out != "" {
		t.Errorf("renderTable() = %q, want empty", out)
	}
}

func TestShortSum(t *testing.T) {
	if got := shortSum("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortSum() = %q", got)
	}
	if got := shortSum("abc"); got != "abc" {
		t.Errorf("shortSum() = %q", got)
	}
}
