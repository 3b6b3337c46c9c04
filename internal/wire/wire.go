// Package wire holds the JSON shapes of the delta-poll protocol and the
// helpers that turn raw payloads into typed records. Decoding is strict
// about structure but tolerant about vocabulary: unknown enum values map
// to an explicit unknown constant instead of failing the whole response.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Revision is the opaque sync cursor. The server sends it either as a
// JSON string or as an integer, so it unmarshals from both and is kept
// as a string internally. The zero value means "no revision yet".
type Revision string

func (r *Revision) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Revision(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("revision is neither string nor integer: %s", string(data))
	}
	*r = Revision(strconv.FormatInt(n, 10))
	return nil
}

func (r Revision) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

type DeltaEvent string

const (
	EventAdd     DeltaEvent = "add"
	EventUpdate  DeltaEvent = "upd"
	EventDelete  DeltaEvent = "del"
	EventUnknown DeltaEvent = "unknown"
)

func ParseDeltaEvent(raw string) DeltaEvent {
	switch DeltaEvent(raw) {
	case EventAdd, EventUpdate, EventDelete:
		return DeltaEvent(raw)
	}
	return EventUnknown
}

type EntityType string

const (
	EntityChat               EntityType = "CHAT"
	EntityChatMessage        EntityType = "CHAT_MESSAGE"
	EntityChatOperator       EntityType = "CHAT_OPERATOR"
	EntityChatOperatorTyping EntityType = "CHAT_OPERATOR_TYPING"
	EntityChatReadByVisitor  EntityType = "CHAT_READ_BY_VISITOR"
	EntityChatState          EntityType = "CHAT_STATE"
	EntityChatMessageRead    EntityType = "CHAT_MESSAGE_READ"
	EntityChatID             EntityType = "CHAT_ID"
	EntityUnreadByOperatorTS EntityType = "UNREAD_BY_OPERATOR_SINCE_TIMESTAMP"
	EntityUnreadByVisitor    EntityType = "UNREAD_BY_VISITOR"
	EntityDepartmentList     EntityType = "DEPARTMENT_LIST"
	EntityHistoryRevision    EntityType = "HISTORY_REVISION"
	EntityOperatorRate       EntityType = "OPERATOR_RATE"
	EntitySurvey             EntityType = "SURVEY"
	EntityVisitSession       EntityType = "VISIT_SESSION"
	EntityVisitSessionState  EntityType = "VISIT_SESSION_STATE"
	EntityUnknown            EntityType = "UNKNOWN"
)

func ParseEntityType(raw string) EntityType {
	switch EntityType(raw) {
	case EntityChat, EntityChatMessage, EntityChatOperator,
		EntityChatOperatorTyping, EntityChatReadByVisitor, EntityChatState,
		EntityChatMessageRead, EntityChatID, EntityUnreadByOperatorTS,
		EntityUnreadByVisitor, EntityDepartmentList, EntityHistoryRevision,
		EntityOperatorRate, EntitySurvey, EntityVisitSession,
		EntityVisitSessionState:
		return EntityType(raw)
	}
	return EntityUnknown
}

// DeltaItem is one incremental change from a poll response. Data is kept
// raw; the consumer decodes it according to ObjectType.
type DeltaItem struct {
	ID       string          `json:"id"`
	RawEvent string          `json:"event"`
	RawType  string          `json:"objectType"`
	Data     json.RawMessage `json:"data"`
}

func (d *DeltaItem) Event() DeltaEvent      { return ParseDeltaEvent(d.RawEvent) }
func (d *DeltaItem) EntityType() EntityType { return ParseEntityType(d.RawType) }

// DeltaResponse is the body of one delta-poll round trip. FullUpdate is
// present on the bootstrap request (no revision) and on forced resyncs.
type DeltaResponse struct {
	Revision   Revision    `json:"revision"`
	FullUpdate *FullUpdate `json:"fullUpdate,omitempty"`
	DeltaList  []DeltaItem `json:"deltaList"`
	Error      string      `json:"error,omitempty"`
}

// DecodeDeltaResponse parses a raw poll body.
func DecodeDeltaResponse(data []byte) (*DeltaResponse, error) {
	var resp DeltaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode delta response: %w", err)
	}
	return &resp, nil
}

// FullUpdate is the bootstrap snapshot.
type FullUpdate struct {
	AuthToken             string           `json:"authToken,omitempty"`
	Chat                  *ChatItem        `json:"chat,omitempty"`
	Departments           []DepartmentItem `json:"departments,omitempty"`
	HintsEnabled          bool             `json:"hintsEnabled"`
	HistoryRevision       string           `json:"historyRevision,omitempty"`
	OnlineStatus          string           `json:"onlineStatus,omitempty"`
	PageID                string           `json:"pageId,omitempty"`
	VisitSessionID        string           `json:"visitSessionId,omitempty"`
	State                 string           `json:"state,omitempty"`
	Survey                *SurveyItem      `json:"survey,omitempty"`
	Visitor               json.RawMessage  `json:"visitor,omitempty"`
	ShowHelloMessage      bool             `json:"showHelloMessage,omitempty"`
	ChatStartAfterMessage bool             `json:"chatStartAfterMessage,omitempty"`
	HelloMessageDescr     string           `json:"helloMessageDescr,omitempty"`
}

// ChatItem is the chat slice of a full update.
type ChatItem struct {
	ID                    string        `json:"id"`
	State                 string        `json:"state,omitempty"`
	Operator              *OperatorItem `json:"operator,omitempty"`
	OperatorTyping        bool          `json:"operatorTyping"`
	ReadByVisitor         *bool         `json:"readByVisitor,omitempty"`
	UnreadByVisitorCount  int           `json:"unreadByVisitorMsgCnt"`
	UnreadByVisitorSince  float64       `json:"unreadByVisitorSinceTs,omitempty"`
	UnreadByOperatorSince float64       `json:"unreadByOperatorSinceTs,omitempty"`
	Messages              []MessageItem `json:"messages,omitempty"`
	Subject               string        `json:"subject,omitempty"`
}

// OperatorItem describes the operator currently assigned to the chat.
type OperatorItem struct {
	ID        json.Number `json:"id"`
	Fullname  string      `json:"fullname"`
	AvatarURL string      `json:"avatar,omitempty"`
	Title     string      `json:"title,omitempty"`
	Info      string      `json:"additionalInfo,omitempty"`
}

type DepartmentItem struct {
	Key            string            `json:"key"`
	Name           string            `json:"name"`
	OnlineStatus   string            `json:"online"`
	Order          int               `json:"order"`
	LocalizedNames map[string]string `json:"localeToName,omitempty"`
	LogoURL        string            `json:"logo,omitempty"`
}

type SurveyItem struct {
	ID                  string              `json:"id"`
	Config              *SurveyConfig       `json:"config,omitempty"`
	CurrentQuestionInfo *SurveyQuestionInfo `json:"current_question,omitempty"`
}

type SurveyConfig struct {
	ID      json.Number  `json:"id"`
	Version string       `json:"version,omitempty"`
	Forms   []SurveyForm `json:"descriptor,omitempty"`
}

type SurveyForm struct {
	ID        json.Number      `json:"id"`
	Questions []SurveyQuestion `json:"questions,omitempty"`
}

type SurveyQuestion struct {
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

type SurveyQuestionInfo struct {
	FormID        json.Number `json:"form_id"`
	QuestionIndex int         `json:"question_id"`
}

// OperatorRateItem carries a visitor's stored rating of one operator.
type OperatorRateItem struct {
	OperatorID json.Number `json:"operatorId"`
	Rating     int         `json:"rating"`
}

// VisitSessionStateItem is the payload of a VISIT_SESSION_STATE delta.
// The server sends it either as a bare string or as an object with a
// state field, depending on endpoint version.
type VisitSessionStateItem struct {
	State string
}

func (v *VisitSessionStateItem) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &v.State)
	}
	var obj struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	v.State = obj.State
	return nil
}
