package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestAnyMessage_Classification(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","method":"tools/list","id":1}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"null id notification", `{"jsonrpc":"2.0","method":"ping","id":null}`, "notification"},
		{"response", `{"jsonrpc":"2.0","result":{},"id":"a"}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.in), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Type(); got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestAnyMessage_Rejects(t *testing.T) {
	bad := []string{
		`{"jsonrpc":"1.0","method":"x","id":1}`,
		`{"jsonrpc":"2.0","method":"x","result":{},"id":1}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","result":{},"error":{"code":1,"message":"x"},"id":1}`,
		`not json`,
	}
	for _, in := range bad {
		var m AnyMessage
		if err := json.Unmarshal([]byte(in), &m); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestResponse_NullIDEncodes(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeInternalError, "boom", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32603,"message":"boom"},"id":null}`
	if string(b) != want {
		t.Fatalf("want %s, got %s", want, b)
	}
}

func TestResponseFromError_KeepsCode(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", NewError(ErrorCodeMethodNotFound, "Unknown tool: %s", "x"))
	res := ResponseFromError(NewRequestID(7), wrapped)
	if res.Error == nil || res.Error.Code != ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", res.Error)
	}
	res = ResponseFromError(NewRequestID(7), errors.New("plain"))
	if res.Error.Code != ErrorCodeInternalError {
		t.Fatalf("expected internal error, got %d", res.Error.Code)
	}
}

func TestRequestID_RoundTripKinds(t *testing.T) {
	for _, in := range []string{`7`, `"abc"`, `1.5`} {
		var id RequestID
		if err := json.Unmarshal([]byte(in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != in {
			t.Fatalf("want %s, got %s", in, out)
		}
	}
}
