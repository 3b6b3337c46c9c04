package chatkit

import (
	"errors"
	"testing"

	"chatkit/internal/transport"
)

func TestFatalErrorFromCode(t *testing.T) {
	fatal := fatalErrorFromCode("visitor_banned")
	if fatal.Type != FatalErrorVisitorBanned {
		t.Fatalf("type = %q", fatal.Type)
	}
	if fatal.Code != "visitor_banned" {
		t.Fatalf("code = %q", fatal.Code)
	}

	fatal = fatalErrorFromCode("some-future-code")
	if fatal.Type != FatalErrorUnknown {
		t.Fatalf("unrecognized code mapped to %q, want unknown", fatal.Type)
	}
	if fatal.Code != "some-future-code" {
		t.Fatalf("raw code lost: %q", fatal.Code)
	}
}

func TestMapSendErrorServerCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"message_empty", SendMessageErrorEmpty},
		{"max-message-length-exceeded", SendMessageErrorTooLong},
		{"never-seen-before", SendMessageErrorUnknown},
	}
	for _, tc := range cases {
		got := mapSendError(&transport.ServerError{Code: tc.code})
		if got != tc.want {
			t.Errorf("code %q mapped to %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestMapErrorsPassNetworkFailuresThrough(t *testing.T) {
	cause := errors.New("connection refused")
	mappers := map[string]func(error) error{
		"send":     mapSendError,
		"edit":     mapEditError,
		"delete":   mapDeleteError,
		"reaction": mapReactionError,
		"rate":     mapRateError,
		"keyboard": mapKeyboardError,
		"file":     mapSendFileError,
	}
	for name, mapper := range mappers {
		if got := mapper(cause); got != cause {
			t.Errorf("%s mapper rewrote a network error: %v", name, got)
		}
	}
}

func TestMapEditErrorServerCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"not_allowed", EditMessageErrorNotAllowed},
		{"message_not_owned", EditMessageErrorNotOwned},
		{"wrong_message_kind", EditMessageErrorWrongKind},
	}
	for _, tc := range cases {
		got := mapEditError(&transport.ServerError{Code: tc.code})
		if got != tc.want {
			t.Errorf("code %q mapped to %v, want %v", tc.code, got, tc.want)
		}
	}
}
