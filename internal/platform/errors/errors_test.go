package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := WithMetadata(CodeCombatNotActive, "no combat", map[string]string{"EncounterID": "enc-1"})
	wrapped := fmt.Errorf("next turn: %w", err)

	if !stderrors.Is(wrapped, New(CodeCombatNotActive, "")) {
		t.Fatal("expected wrapped error to match code")
	}
	if stderrors.Is(wrapped, New(CodeCombatAlreadyActive, "")) {
		t.Fatal("expected different code not to match")
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := Wrap(CodeConnectionFailed, "open encounter channel", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "open encounter channel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if got := (&Error{Cause: cause}).Error(); got != cause.Error() {
		t.Fatalf("empty message should fall back to cause, got %q", got)
	}
}

func TestCodeOfAndClassOf(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		wantCode  Code
		wantClass Class
	}{
		{name: "nil", err: nil, wantCode: CodeUnknown, wantClass: ClassUnknown},
		{name: "plain", err: stderrors.New("boom"), wantCode: CodeUnknown, wantClass: ClassUnknown},
		{name: "connection", err: New(CodeConnectionFailed, "x"), wantCode: CodeConnectionFailed, wantClass: ClassConnection},
		{name: "protocol", err: fmt.Errorf("decode: %w", New(CodeProtocolMalformed, "x")), wantCode: CodeProtocolMalformed, wantClass: ClassProtocol},
		{name: "action", err: New(CodeActionForbidden, "x"), wantCode: CodeActionForbidden, wantClass: ClassAction},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.wantCode {
				t.Fatalf("CodeOf = %s, want %s", got, tc.wantCode)
			}
			if got := ClassOf(tc.err); got != tc.wantClass {
				t.Fatalf("ClassOf = %s, want %s", got, tc.wantClass)
			}
		})
	}
}

func TestHTTPStatusRoundTripsThroughCodeFromHTTPStatus(t *testing.T) {
	testCases := []struct {
		status int
		want   Code
	}{
		{status: http.StatusBadRequest, want: CodeActionRejected},
		{status: http.StatusUnprocessableEntity, want: CodeActionRejected},
		{status: http.StatusUnauthorized, want: CodeActionUnauthorized},
		{status: http.StatusForbidden, want: CodeActionForbidden},
		{status: http.StatusNotFound, want: CodeNotFound},
		{status: http.StatusConflict, want: CodeActionConflict},
		{status: http.StatusBadGateway, want: CodeActionServerError},
	}
	for _, tc := range testCases {
		if got := CodeFromHTTPStatus(tc.status); got != tc.want {
			t.Fatalf("CodeFromHTTPStatus(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}

	if got := CodeCombatAlreadyActive.HTTPStatus(); got != http.StatusConflict {
		t.Fatalf("HTTPStatus = %d, want %d", got, http.StatusConflict)
	}
	if got := CodeFromHTTPStatus(CodeCombatAlreadyActive.HTTPStatus()); got.Class() != ClassAction {
		t.Fatalf("expected action class, got %s", got.Class())
	}
}
