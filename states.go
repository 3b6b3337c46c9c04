package chatkit

// ChatState is the chat-level state machine. It starts at
// ChatStateUnknown and follows server-driven transitions; raw values the
// client does not recognize also map to ChatStateUnknown.
type ChatState string

const (
	ChatStateUnknown           ChatState = "unknown"
	ChatStateClosed            ChatState = "closed"
	ChatStateQueue             ChatState = "queue"
	ChatStateInvitation        ChatState = "invitation"
	ChatStateChatting          ChatState = "chatting"
	ChatStateChattingWithRobot ChatState = "chatting_with_robot"
	ChatStateClosedByOperator  ChatState = "closed_by_operator"
	ChatStateClosedByVisitor   ChatState = "closed_by_visitor"
)

func parseChatState(raw string) ChatState {
	switch ChatState(raw) {
	case ChatStateClosed, ChatStateQueue, ChatStateInvitation,
		ChatStateChatting, ChatStateChattingWithRobot,
		ChatStateClosedByOperator, ChatStateClosedByVisitor:
		return ChatState(raw)
	}
	return ChatStateUnknown
}

// chatStateTransitions lists the legal server-driven transitions. A
// delta attempting anything else is ignored. Transitions out of the
// initial unknown state are always legal.
var chatStateTransitions = map[ChatState][]ChatState{
	ChatStateClosed:            {ChatStateQueue, ChatStateInvitation},
	ChatStateQueue:             {ChatStateChatting, ChatStateClosed, ChatStateClosedByOperator},
	ChatStateInvitation:        {ChatStateChatting, ChatStateClosed},
	ChatStateChatting:          {ChatStateClosedByOperator, ChatStateClosedByVisitor, ChatStateClosed, ChatStateChattingWithRobot},
	ChatStateChattingWithRobot: {ChatStateChatting, ChatStateClosedByVisitor, ChatStateClosed},
	ChatStateClosedByOperator:  {ChatStateClosed, ChatStateQueue},
	ChatStateClosedByVisitor:   {ChatStateClosed, ChatStateQueue},
}

func canTransitionChatState(from, to ChatState) bool {
	if from == ChatStateUnknown || from == to {
		return true
	}
	for _, allowed := range chatStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// VisitSessionState describes the visitor session as a whole,
// independently of the chat state machine.
type VisitSessionState string

const (
	VisitSessionStateUnknown             VisitSessionState = "unknown"
	VisitSessionStateIdle                VisitSessionState = "idle"
	VisitSessionStateIdleAfterChat       VisitSessionState = "idle-after-chat"
	VisitSessionStateChat                VisitSessionState = "chat"
	VisitSessionStateDepartmentSelection VisitSessionState = "department-selection"
	VisitSessionStateOfflineMessage      VisitSessionState = "offline-message"
	VisitSessionStateFirstMessage        VisitSessionState = "first-message"
)

func parseVisitSessionState(raw string) VisitSessionState {
	switch VisitSessionState(raw) {
	case VisitSessionStateIdle, VisitSessionStateIdleAfterChat,
		VisitSessionStateChat, VisitSessionStateDepartmentSelection,
		VisitSessionStateOfflineMessage, VisitSessionStateFirstMessage:
		return VisitSessionState(raw)
	}
	return VisitSessionStateUnknown
}

// OnlineStatus describes whether the account can currently take chats.
type OnlineStatus string

const (
	OnlineStatusUnknown     OnlineStatus = "unknown"
	OnlineStatusOnline      OnlineStatus = "online"
	OnlineStatusBusyOnline  OnlineStatus = "busy_online"
	OnlineStatusOffline     OnlineStatus = "offline"
	OnlineStatusBusyOffline OnlineStatus = "busy_offline"
)

func parseOnlineStatus(raw string) OnlineStatus {
	switch OnlineStatus(raw) {
	case OnlineStatusOnline, OnlineStatusBusyOnline,
		OnlineStatusOffline, OnlineStatusBusyOffline:
		return OnlineStatus(raw)
	}
	return OnlineStatusUnknown
}

// DepartmentOnlineStatus mirrors OnlineStatus for a single department.
type DepartmentOnlineStatus = OnlineStatus

// Operator is the operator currently assigned to the chat.
type Operator struct {
	ID        string
	Name      string
	AvatarURL string
	Title     string
	Info      string
}

// Department is one entry of the department list.
type Department struct {
	Key            string
	Name           string
	OnlineStatus   DepartmentOnlineStatus
	Order          int
	LocalizedNames map[string]string
	LogoURL        string
}

// Survey is an active visitor survey.
type Survey struct {
	ID              string
	Forms           []SurveyForm
	CurrentFormID   string
	CurrentQuestion int
}

type SurveyForm struct {
	ID        string
	Questions []SurveyQuestion
}

type SurveyQuestionType string

const (
	SurveyQuestionTypeStars   SurveyQuestionType = "stars"
	SurveyQuestionTypeRadio   SurveyQuestionType = "radio"
	SurveyQuestionTypeComment SurveyQuestionType = "comment"
	SurveyQuestionTypeUnknown SurveyQuestionType = "unknown"
)

type SurveyQuestion struct {
	Type    SurveyQuestionType
	Text    string
	Options []string
}

func parseSurveyQuestionType(raw string) SurveyQuestionType {
	switch SurveyQuestionType(raw) {
	case SurveyQuestionTypeStars, SurveyQuestionTypeRadio, SurveyQuestionTypeComment:
		return SurveyQuestionType(raw)
	}
	return SurveyQuestionTypeUnknown
}
