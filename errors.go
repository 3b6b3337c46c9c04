package chatkit

import (
	"errors"
	"fmt"

	"chatkit/internal/transport"
)

// Access errors: programmer misuse, reported synchronously before any
// side effect.
var (
	// ErrInvalidThread is returned when a Session, MessageStream or
	// MessageTracker method is called from a goroutine other than the
	// one the session was created on (or a listener callback).
	ErrInvalidThread = errors.New("chatkit: call from outside the session's home context")

	// ErrInvalidSession is returned by all operations once the session
	// has been destroyed. Resume and Destroy are tolerated no-ops
	// instead.
	ErrInvalidSession = errors.New("chatkit: session destroyed")

	// ErrNilListener is returned by NewMessageTracker when no listener
	// is supplied.
	ErrNilListener = errors.New("chatkit: nil message listener")

	// ErrTrackerBusy is returned by ResetTo while a pagination request
	// is in flight.
	ErrTrackerBusy = errors.New("chatkit: tracker request in flight")

	// ErrTrackerDestroyed is returned by tracker methods after Destroy,
	// and by methods of a tracker superseded by a newer one.
	ErrTrackerDestroyed = errors.New("chatkit: tracker destroyed")
)

// FatalErrorType enumerates session-ending server errors. After one is
// reported the engine stops polling; the recommended response is to
// recreate the session.
type FatalErrorType string

const (
	FatalErrorAccountBlocked         FatalErrorType = "account_blocked"
	FatalErrorVisitorBanned          FatalErrorType = "visitor_banned"
	FatalErrorProvidedVisitorExpired FatalErrorType = "provided_visitor_expired"
	FatalErrorWrongVisitorHash       FatalErrorType = "wrong_provided_visitor_hash"
	FatalErrorUnknown                FatalErrorType = "unknown"
)

type FatalError struct {
	Type FatalErrorType
	// Code is the raw server error string, kept for diagnostics.
	Code string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("chatkit: fatal session error %s (%s)", e.Type, e.Code)
}

// fatalErrorCodes maps raw server codes onto the closed fatal set.
var fatalErrorCodes = map[string]FatalErrorType{
	"account-blocked":                   FatalErrorAccountBlocked,
	"visitor_banned":                    FatalErrorVisitorBanned,
	"provided-visitor-expired":          FatalErrorProvidedVisitorExpired,
	"wrong-provided-visitor-hash-value": FatalErrorWrongVisitorHash,
}

func fatalErrorFromCode(code string) *FatalError {
	t, ok := fatalErrorCodes[code]
	if !ok {
		t = FatalErrorUnknown
	}
	return &FatalError{Type: t, Code: code}
}

// NotFatalErrorType enumerates transient failures. The engine keeps
// retrying with backoff and the revision cursor is preserved.
type NotFatalErrorType string

const (
	NotFatalErrorNoNetwork         NotFatalErrorType = "no_network"
	NotFatalErrorServerUnavailable NotFatalErrorType = "server_unavailable"
)

type NotFatalError struct {
	Type NotFatalErrorType
	Err  error
}

func (e *NotFatalError) Error() string {
	return fmt.Sprintf("chatkit: transient error %s: %v", e.Type, e.Err)
}

func (e *NotFatalError) Unwrap() error { return e.Err }

// Per-operation errors. Each mutating operation has its own closed enum
// delivered only through that operation's completion handler.

type SendMessageError string

const (
	SendMessageErrorEmpty   SendMessageError = "message_empty"
	SendMessageErrorTooLong SendMessageError = "message_too_long"
	SendMessageErrorUnknown SendMessageError = "unknown"
)

func (e SendMessageError) Error() string { return "chatkit: send message: " + string(e) }

type EditMessageError string

const (
	EditMessageErrorNotAllowed EditMessageError = "not_allowed"
	EditMessageErrorEmpty      EditMessageError = "message_empty"
	EditMessageErrorNotOwned   EditMessageError = "not_owned"
	EditMessageErrorTooLong    EditMessageError = "message_too_long"
	EditMessageErrorWrongKind  EditMessageError = "wrong_kind"
	EditMessageErrorUnknown    EditMessageError = "unknown"
)

func (e EditMessageError) Error() string { return "chatkit: edit message: " + string(e) }

type DeleteMessageError string

const (
	DeleteMessageErrorNotAllowed DeleteMessageError = "not_allowed"
	DeleteMessageErrorNotOwned   DeleteMessageError = "not_owned"
	DeleteMessageErrorNotFound   DeleteMessageError = "message_not_found"
	DeleteMessageErrorUnknown    DeleteMessageError = "unknown"
)

func (e DeleteMessageError) Error() string { return "chatkit: delete message: " + string(e) }

type ReactionError string

const (
	ReactionErrorNotAllowed      ReactionError = "not_allowed"
	ReactionErrorMessageNotFound ReactionError = "message_not_found"
	ReactionErrorUnknown         ReactionError = "unknown"
)

func (e ReactionError) Error() string { return "chatkit: react: " + string(e) }

type RateOperatorError string

const (
	RateOperatorErrorNoChat          RateOperatorError = "no_chat"
	RateOperatorErrorWrongOperatorID RateOperatorError = "wrong_operator_id"
	RateOperatorErrorWrongRating     RateOperatorError = "wrong_rating_value"
	RateOperatorErrorUnknown         RateOperatorError = "unknown"
)

func (e RateOperatorError) Error() string { return "chatkit: rate operator: " + string(e) }

type KeyboardResponseError string

const (
	KeyboardResponseErrorNoChat               KeyboardResponseError = "no_chat"
	KeyboardResponseErrorButtonNotSet         KeyboardResponseError = "button_id_not_set"
	KeyboardResponseErrorRequestNotFound      KeyboardResponseError = "request_message_not_found"
	KeyboardResponseErrorCannotCreateResponse KeyboardResponseError = "cannot_create_response"
	KeyboardResponseErrorUnknown              KeyboardResponseError = "unknown"
)

func (e KeyboardResponseError) Error() string { return "chatkit: keyboard response: " + string(e) }

type SendFileError string

const (
	SendFileErrorSizeExceeded   SendFileError = "file_size_exceeded"
	SendFileErrorTypeNotAllowed SendFileError = "file_type_not_allowed"
	SendFileErrorNameTooLong    SendFileError = "file_name_too_long"
	SendFileErrorUnknown        SendFileError = "unknown"
)

func (e SendFileError) Error() string { return "chatkit: send file: " + string(e) }

// serverCode extracts the raw backend error code from a transport
// error, or "" for network-level failures.
func serverCode(err error) string {
	if serverErr, ok := transport.AsServerError(err); ok {
		return serverErr.Code
	}
	return ""
}

func mapEditError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "not_allowed", "editing_message_disabled":
		return EditMessageErrorNotAllowed
	case "message_empty":
		return EditMessageErrorEmpty
	case "message_not_owned":
		return EditMessageErrorNotOwned
	case "max-message-length-exceeded":
		return EditMessageErrorTooLong
	case "wrong_message_kind":
		return EditMessageErrorWrongKind
	}
	return EditMessageErrorUnknown
}

func mapDeleteError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "not_allowed", "message_deletion_disabled":
		return DeleteMessageErrorNotAllowed
	case "message_not_owned":
		return DeleteMessageErrorNotOwned
	case "message_not_found":
		return DeleteMessageErrorNotFound
	}
	return DeleteMessageErrorUnknown
}

func mapReactionError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "not_allowed":
		return ReactionErrorNotAllowed
	case "message_not_found":
		return ReactionErrorMessageNotFound
	}
	return ReactionErrorUnknown
}

func mapRateError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "no-chat":
		return RateOperatorErrorNoChat
	case "operator-not-in-chat", "wrong-operator-id":
		return RateOperatorErrorWrongOperatorID
	case "wrong-rate-value":
		return RateOperatorErrorWrongRating
	}
	return RateOperatorErrorUnknown
}

func mapKeyboardError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "chat-required":
		return KeyboardResponseErrorNoChat
	case "button-id-not-set":
		return KeyboardResponseErrorButtonNotSet
	case "request-message-id-not-set", "request-message-not-found":
		return KeyboardResponseErrorRequestNotFound
	case "cannot-create-response":
		return KeyboardResponseErrorCannotCreateResponse
	}
	return KeyboardResponseErrorUnknown
}

func mapSendFileError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "max_file_size_exceeded":
		return SendFileErrorSizeExceeded
	case "not_allowed_file_type":
		return SendFileErrorTypeNotAllowed
	case "file_name_too_long":
		return SendFileErrorNameTooLong
	}
	return SendFileErrorUnknown
}

func mapSendError(err error) error {
	switch serverCode(err) {
	case "":
		return err
	case "message_empty":
		return SendMessageErrorEmpty
	case "max-message-length-exceeded":
		return SendMessageErrorTooLong
	}
	return SendMessageErrorUnknown
}
