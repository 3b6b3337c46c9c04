package wire

import (
	"encoding/json"
	"fmt"
)

// MessageItem is one chat message on the wire. ClientSideID is assigned
// by whichever side created the message and stays stable across edits;
// ID is the server-side identifier assigned on persistence.
type MessageItem struct {
	ClientSideID string          `json:"clientSideId"`
	ID           string          `json:"id,omitempty"`
	Kind         string          `json:"kind"`
	Text         string          `json:"text"`
	SenderName   string          `json:"name,omitempty"`
	AvatarURL    string          `json:"avatar,omitempty"`
	OperatorID   json.Number     `json:"operatorId,omitempty"`
	TimeMicros   int64           `json:"ts_m"`
	TimeSeconds  float64         `json:"ts,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Edited       bool            `json:"edited,omitempty"`
	Read         bool            `json:"read,omitempty"`
	CanReact     bool            `json:"canVisitorReact,omitempty"`
	Reaction     string          `json:"reaction,omitempty"`
	Quote        *QuoteItem      `json:"quote,omitempty"`
}

// OrderKey is the server-assigned ordering key. Responses from older
// endpoint versions carry only the float seconds timestamp.
func (m *MessageItem) OrderKey() int64 {
	if m.TimeMicros != 0 {
		return m.TimeMicros
	}
	return int64(m.TimeSeconds * 1e6)
}

// DecodeMessageItem parses a CHAT_MESSAGE delta payload.
func DecodeMessageItem(data json.RawMessage) (*MessageItem, error) {
	var item MessageItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode message item: %w", err)
	}
	if item.ClientSideID == "" {
		return nil, fmt.Errorf("message item missing clientSideId")
	}
	return &item, nil
}

// Message kinds as sent by the server.
const (
	KindOperator         = "operator"
	KindVisitor          = "visitor"
	KindFileFromOperator = "file_operator"
	KindFileFromVisitor  = "file_visitor"
	KindInfo             = "info"
	KindActionRequest    = "action_request"
	KindKeyboard         = "keyboard"
	KindKeyboardResponse = "keyboard_response"
	KindSticker          = "sticker"
	KindContactRequest   = "contact_request"
)

// MessageData is the polymorphic data payload of a message: file
// attachment for file kinds, keyboard for keyboard kinds, sticker id
// for stickers.
type MessageData struct {
	File      *FileData             `json:"file,omitempty"`
	Keyboard  *KeyboardItem         `json:"keyboard,omitempty"`
	Response  *KeyboardResponseItem `json:"keyboardResponse,omitempty"`
	StickerID int                   `json:"stickerId,omitempty"`
}

// DecodeMessageData parses the data payload of a message, if any.
func DecodeMessageData(data json.RawMessage) (*MessageData, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var md MessageData
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode message data: %w", err)
	}
	return &md, nil
}

// File attachment states.
const (
	FileStateUpload         = "upload"
	FileStateReady          = "ready"
	FileStateError          = "error"
	FileStateExternalChecks = "external_checks"
)

type FileData struct {
	State      string          `json:"state"`
	Progress   int             `json:"progress,omitempty"`
	ErrorType  string          `json:"error,omitempty"`
	ErrorText  string          `json:"error_message,omitempty"`
	Properties *FileProperties `json:"desc,omitempty"`
}

type FileProperties struct {
	Filename    string     `json:"filename"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type"`
	GUID        string     `json:"guid"`
	URL         string     `json:"url,omitempty"`
	ImageSize   *ImageSize `json:"image,omitempty"`
}

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Keyboard states.
const (
	KeyboardStatePending   = "pending"
	KeyboardStateCompleted = "completed"
	KeyboardStateCanceled  = "cancelled"
)

type KeyboardItem struct {
	State    string                `json:"state"`
	Buttons  [][]KeyboardButton    `json:"buttons"`
	Response *KeyboardResponseItem `json:"response,omitempty"`
}

type KeyboardButton struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type KeyboardResponseItem struct {
	ButtonID  string `json:"buttonId"`
	MessageID string `json:"messageId"`
}

// Quote states.
const (
	QuoteStatePending  = "pending"
	QuoteStateFilled   = "filled"
	QuoteStateNotFound = "not-found"
)

type QuoteItem struct {
	State   string         `json:"state"`
	Message *QuotedMessage `json:"message,omitempty"`
}

type QuotedMessage struct {
	ID         string `json:"id"`
	Kind       string `json:"kind,omitempty"`
	SenderName string `json:"authorName,omitempty"`
	Text       string `json:"text,omitempty"`
	TimeMicros int64  `json:"ts,omitempty"`
}

// HistoryResponse is shared by the history-before and history-since
// endpoints; Revision is only populated by history-since.
type HistoryResponse struct {
	Data struct {
		HasMore  bool          `json:"hasMore"`
		Messages []MessageItem `json:"messages"`
		Revision string        `json:"revision,omitempty"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

func DecodeHistoryResponse(data []byte) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	return &resp, nil
}
