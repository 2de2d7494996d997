package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/store"
)

func TestParseInputValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"hello", "hello"},
		{`"quoted"`, "quoted"},
		{"42", float64(42)},
		{"true", true},
		{`["a","b"]`, []any{"a", "b"}},
		{`{"k":1}`, map[string]any{"k": float64(1)}},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseInputValue(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseInputValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestInputFlags(t *testing.T) {
	inputs := inputFlags{}
	for _, v := range []string{"text=long article", "count=3", "expr=a=b"} {
		if err := inputs.Set(v); err != nil {
			t.Fatalf("Set(%q) error = %v", v, err)
		}
	}
	want := inputFlags{"text": "long article", "count": float64(3), "expr": "a=b"}
	if !reflect.DeepEqual(inputs, want) {
		t.Errorf("inputs = %v, want %v", inputs, want)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if err := inputs.Set(bad); err == nil {
			t.Errorf("Set(%q) should fail", bad)
		}
	}
}

func TestBuildInputs(t *testing.T) {
	got, err := buildInputs(`{"text":"a","lang":"en"}`, inputFlags{"text": "b"})
	if err != nil {
		t.Fatalf("buildInputs() error = %v", err)
	}
	want := map[string]any{"text": "b", "lang": "en"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildInputs() = %v, want %v", got, want)
	}

	if _, err := buildInputs(`[1,2]`, nil); err == nil {
		t.Error("buildInputs() with a JSON array should fail")
	}
}

func TestParseArgsInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	stream := fs.Bool("stream", false, "")
	version := fs.Int("version", 0, "")

	positional, err := parseArgs(fs, []string{"summarize", "--stream", "extra", "--version", "3", "--", "--literal"})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if want := []string{"summarize", "extra", "--literal"}; !reflect.DeepEqual(positional, want) {
		t.Errorf("positional = %v, want %v", positional, want)
	}
	if !*stream || *version != 3 {
		t.Errorf("stream = %v version = %d, want true 3", *stream, *version)
	}
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name    string
		res     *execution.Result
		want    string
		wantErr bool
	}{
		{
			name: "success string output",
			res:  &execution.Result{ID: "101", Status: execution.StatusSuccess, Output: json.RawMessage(`"done"`)},
			want: "done\n",
		},
		{
			name: "success object output",
			res:  &execution.Result{ID: "101", Status: execution.StatusSuccess, Output: json.RawMessage(`{"a":1}`)},
			want: "{\"a\":1}\n",
		},
		{
			name: "running",
			res:  &execution.Result{ID: "101", Status: execution.StatusRunning},
			want: "Execution 101: running\n",
		},
		{
			name:    "error",
			res:     &execution.Result{ID: "101", Status: execution.StatusError, ErrorMessage: "boom"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printResult(&buf, tt.res, false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("printResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if buf.String() != tt.want {
				t.Errorf("printResult() wrote %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestPrintResultJSON(t *testing.T) {
	var buf bytes.Buffer
	res := &execution.Result{ID: "101", Status: execution.StatusSuccess, Output: json.RawMessage(`"done"`)}
	if err := printResult(&buf, res, true); err != nil {
		t.Fatalf("printResult() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"status": "success"`) {
		t.Errorf("printResult() JSON = %s", buf.String())
	}
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, nil)
	if buf.String() != "No records\n" {
		t.Errorf("printRecords(nil) = %q", buf.String())
	}

	buf.Reset()
	resolved := time.Now()
	printRecords(&buf, []*store.Record{
		{Kind: "execution", AppID: "7", Ref: "101", Status: "success", Source: "push", CreatedAt: time.Now(), ResolvedAt: &resolved},
		{Kind: "chat", AppID: "9", Ref: "sess-1", CreatedAt: time.Now()},
	})
	out := buf.String()
	for _, want := range []string{"KIND", "101", "success", "sess-1", "unresolved"} {
		if !strings.Contains(out, want) {
			t.Errorf("printRecords() output missing %q:\n%s", want, out)
		}
	}
}
