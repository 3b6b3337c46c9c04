package chatkit

import "time"

// Listener interfaces. Each kind has exactly one slot on the stream:
// setting a listener replaces the previous one. All callbacks fire on
// the session's home context, serialized with state mutation, so a
// listener observes a consistent model and may call back into the API.

type ChatStateListener interface {
	ChatStateChanged(previous, current ChatState)
}

type VisitSessionStateListener interface {
	VisitSessionStateChanged(previous, current VisitSessionState)
}

// CurrentOperatorListener observes operator assignment. Either operator
// may be nil (no operator assigned).
type CurrentOperatorListener interface {
	OperatorChanged(previous, current *Operator)
}

type OperatorTypingListener interface {
	OperatorTypingStateChanged(typing bool)
}

type DepartmentListListener interface {
	DepartmentListChanged(departments []Department)
}

type UnreadByVisitorCountListener interface {
	UnreadByVisitorCountChanged(count int)
}

// UnreadByOperatorTimestampListener reports the send time of the oldest
// visitor message the operator has not read yet. A zero time means the
// operator is caught up.
type UnreadByOperatorTimestampListener interface {
	UnreadByOperatorTimestampChanged(timestamp time.Time)
}

type OnlineStatusListener interface {
	OnlineStatusChanged(previous, current OnlineStatus)
}

type HelloMessageListener interface {
	HelloMessage(text string)
}

type SurveyListener interface {
	SurveyStarted(survey *Survey)
	SurveyCancelled()
}

// FatalErrorHandler receives session-ending errors. Called at most once
// per session.
type FatalErrorHandler interface {
	OnFatalError(err *FatalError)
}

// NotFatalErrorHandler receives transient errors and connectivity
// changes. The engine keeps retrying on its own.
type NotFatalErrorHandler interface {
	OnNotFatalError(err *NotFatalError)
	ConnectionStateChanged(connected bool)
}

// MessageListener receives the unified message feed of a tracker: both
// paginated history and live mutations use this vocabulary.
type MessageListener interface {
	// Added reports a new message. previous is nil when the message
	// arrived at the newest end; an out-of-order insert carries the
	// message immediately preceding it in server order.
	Added(message Message, previous *Message)
	Removed(message Message)
	Changed(old, new Message)
	RemovedAll()
}

// streamListeners holds the single registration slot per listener kind.
type streamListeners struct {
	chatState         ChatStateListener
	visitSessionState VisitSessionStateListener
	operator          CurrentOperatorListener
	operatorTyping    OperatorTypingListener
	departmentList    DepartmentListListener
	unreadByVisitor   UnreadByVisitorCountListener
	unreadByOperator  UnreadByOperatorTimestampListener
	onlineStatus      OnlineStatusListener
	helloMessage      HelloMessageListener
	survey            SurveyListener
}
