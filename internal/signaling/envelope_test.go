package signaling

import (
	"errors"
	"strings"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantType messageType
		wantCode string
	}{
		{
			name:     "valid join",
			data:     `{"type":"join","roomId":"r1","userId":"alice"}`,
			wantType: messageTypeJoin,
		},
		{
			name:     "join missing userId",
			data:     `{"type":"join","roomId":"r1"}`,
			wantCode: codeValidation,
		},
		{
			name:     "join missing roomId",
			data:     `{"type":"join","userId":"alice"}`,
			wantCode: codeValidation,
		},
		{
			name:     "join with empty fields",
			data:     `{"type":"join","roomId":"","userId":""}`,
			wantCode: codeValidation,
		},
		{
			name:     "join with payload",
			data:     `{"type":"join","roomId":"r1","userId":"alice","payload":{}}`,
			wantCode: codeValidation,
		},
		{
			name:     "valid offer",
			data:     `{"type":"offer","payload":{"sdp":"v=0"}}`,
			wantType: messageTypeOffer,
		},
		{
			name:     "offer with target",
			data:     `{"type":"offer","target":"bob","payload":{"sdp":"v=0"}}`,
			wantType: messageTypeOffer,
		},
		{
			name:     "offer without payload",
			data:     `{"type":"offer"}`,
			wantCode: codeValidation,
		},
		{
			name:     "answer without payload",
			data:     `{"type":"answer"}`,
			wantCode: codeValidation,
		},
		{
			name:     "valid ice",
			data:     `{"type":"ice","payload":{"candidate":"foo"}}`,
			wantType: messageTypeICE,
		},
		{
			name:     "valid leave",
			data:     `{"type":"leave"}`,
			wantType: messageTypeLeave,
		},
		{
			name:     "leave with payload",
			data:     `{"type":"leave","payload":{}}`,
			wantCode: codeValidation,
		},
		{
			name:     "unknown type",
			data:     `{"type":"shout"}`,
			wantCode: codeBadMessage,
		},
		{
			name:     "server-only type from client",
			data:     `{"type":"user-joined","userId":"mallory"}`,
			wantCode: codeBadMessage,
		},
		{
			name:     "server-only fields from client",
			data:     `{"type":"offer","payload":{},"users":["a"]}`,
			wantCode: codeBadMessage,
		},
		{
			name:     "not json",
			data:     `hello`,
			wantCode: codeBadMessage,
		},
		{
			name:     "unknown field",
			data:     `{"type":"leave","bogus":true}`,
			wantCode: codeBadMessage,
		},
		{
			name:     "trailing data",
			data:     `{"type":"leave"}{"type":"leave"}`,
			wantCode: codeBadMessage,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tc.data))
			if tc.wantCode != "" {
				var we *wireError
				if !errors.As(err, &we) {
					t.Fatalf("expected wireError, got %v", err)
				}
				if we.Code != tc.wantCode {
					t.Fatalf("expected code %q, got %q (%s)", tc.wantCode, we.Code, we.Message)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if env.Type != tc.wantType {
				t.Fatalf("expected type %q, got %q", tc.wantType, env.Type)
			}
		})
	}
}

func TestParseEnvelopeIgnoresClientFrom(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"type":"offer","from":"evil","payload":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Parsing keeps the field; the router is responsible for re-stamping.
	if env.From != "evil" {
		t.Fatalf("expected from to parse as-is, got %q", env.From)
	}
}

func TestExistingUsersEnvelopeEncodesEmptyList(t *testing.T) {
	data, err := existingUsersEnvelope(nil).encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"users":[]`) {
		t.Fatalf("expected explicit empty users list, got %s", data)
	}
}
