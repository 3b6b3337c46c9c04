package chatkit

import (
	"encoding/json"
	"time"

	"chatkit/internal/content"
	"chatkit/internal/histstore"
	"chatkit/internal/wire"
)

type MessageType string

const (
	MessageTypeOperator         MessageType = "operator"
	MessageTypeVisitor          MessageType = "visitor"
	MessageTypeFileFromOperator MessageType = "file_from_operator"
	MessageTypeFileFromVisitor  MessageType = "file_from_visitor"
	MessageTypeInfo             MessageType = "info"
	MessageTypeActionRequest    MessageType = "action_request"
	MessageTypeKeyboard         MessageType = "keyboard"
	MessageTypeKeyboardResponse MessageType = "keyboard_response"
	MessageTypeSticker          MessageType = "sticker"
	MessageTypeContactRequest   MessageType = "contact_request"
	MessageTypeUnknown          MessageType = "unknown"
)

type SendStatus string

const (
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
)

// Reaction is a visitor reaction on an operator message.
type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// Message is one chat message. It is an immutable value: an edit
// replaces the whole message under the same ID. Two messages with equal
// ID are the same logical message regardless of other fields.
//
// ID is assigned by the side that created the message and stays stable
// across edits; ServerSideID appears once the backend persists it.
// Ordering follows TimeMicros, the server-assigned sequence.
type Message struct {
	ID             string
	ServerSideID   string
	Type           MessageType
	Text           string
	TimeMicros     int64
	SendStatus     SendStatus
	SenderName     string
	SenderAvatar   string
	OperatorID     string
	Attachment     *Attachment
	Quote          *Quote
	Keyboard       *Keyboard
	StickerID      int
	IsEdited       bool
	Reaction       Reaction
	CanReact       bool
	ReadByOperator bool
}

// Time converts the server microsecond timestamp to wall-clock time.
func (m Message) Time() time.Time {
	return time.UnixMicro(m.TimeMicros)
}

type AttachmentState string

const (
	AttachmentStateUploading      AttachmentState = "uploading"
	AttachmentStateReady          AttachmentState = "ready"
	AttachmentStateError          AttachmentState = "error"
	AttachmentStateExternalChecks AttachmentState = "external_checks"
	AttachmentStateUnknown        AttachmentState = "unknown"
)

// Attachment is file or image metadata carried by file messages.
type Attachment struct {
	State        AttachmentState
	Progress     int
	Filename     string
	Size         int64
	ContentType  string
	URL          string
	ErrorType    string
	ErrorMessage string
	ImageWidth   int
	ImageHeight  int
}

type QuoteState string

const (
	QuoteStatePending  QuoteState = "pending"
	QuoteStateFilled   QuoteState = "filled"
	QuoteStateNotFound QuoteState = "not-found"
)

// Quote is a reference from one message to another.
type Quote struct {
	State      QuoteState
	MessageID  string
	SenderName string
	Text       string
	TimeMicros int64
}

type KeyboardState string

const (
	KeyboardStatePending   KeyboardState = "pending"
	KeyboardStateCompleted KeyboardState = "completed"
	KeyboardStateCanceled  KeyboardState = "canceled"
)

// Keyboard is a bot button set attached to a keyboard message.
type Keyboard struct {
	State    KeyboardState
	Buttons  [][]KeyboardButton
	Response *KeyboardResponse
}

type KeyboardButton struct {
	ID   string
	Text string
}

type KeyboardResponse struct {
	ButtonID  string
	MessageID string
}

func parseMessageType(kind string) MessageType {
	switch kind {
	case wire.KindOperator:
		return MessageTypeOperator
	case wire.KindVisitor:
		return MessageTypeVisitor
	case wire.KindFileFromOperator:
		return MessageTypeFileFromOperator
	case wire.KindFileFromVisitor:
		return MessageTypeFileFromVisitor
	case wire.KindInfo:
		return MessageTypeInfo
	case wire.KindActionRequest:
		return MessageTypeActionRequest
	case wire.KindKeyboard:
		return MessageTypeKeyboard
	case wire.KindKeyboardResponse:
		return MessageTypeKeyboardResponse
	case wire.KindSticker:
		return MessageTypeSticker
	case wire.KindContactRequest:
		return MessageTypeContactRequest
	}
	return MessageTypeUnknown
}

func wireKindForType(t MessageType) string {
	switch t {
	case MessageTypeOperator:
		return wire.KindOperator
	case MessageTypeVisitor:
		return wire.KindVisitor
	case MessageTypeFileFromOperator:
		return wire.KindFileFromOperator
	case MessageTypeFileFromVisitor:
		return wire.KindFileFromVisitor
	case MessageTypeInfo:
		return wire.KindInfo
	case MessageTypeActionRequest:
		return wire.KindActionRequest
	case MessageTypeKeyboard:
		return wire.KindKeyboard
	case MessageTypeKeyboardResponse:
		return wire.KindKeyboardResponse
	case MessageTypeSticker:
		return wire.KindSticker
	case MessageTypeContactRequest:
		return wire.KindContactRequest
	}
	return ""
}

// messageFromItem converts a decoded wire message to the public model.
// Server-sent HTML is sanitized here, before any listener can see it.
func messageFromItem(item *wire.MessageItem) Message {
	msg := Message{
		ID:             item.ClientSideID,
		ServerSideID:   item.ID,
		Type:           parseMessageType(item.Kind),
		Text:           content.Sanitize(item.Text),
		TimeMicros:     item.OrderKey(),
		SendStatus:     SendStatusSent,
		SenderName:     item.SenderName,
		SenderAvatar:   item.AvatarURL,
		OperatorID:     item.OperatorID.String(),
		IsEdited:       item.Edited,
		Reaction:       Reaction(item.Reaction),
		CanReact:       item.CanReact,
		ReadByOperator: item.Read,
	}
	if msg.OperatorID == "" || msg.OperatorID == "0" {
		msg.OperatorID = ""
	}

	if item.Quote != nil {
		msg.Quote = quoteFromItem(item.Quote)
	}

	data, err := wire.DecodeMessageData(item.Data)
	if err == nil && data != nil {
		if data.File != nil {
			msg.Attachment = attachmentFromData(data.File)
		}
		if data.Keyboard != nil {
			msg.Keyboard = keyboardFromItem(data.Keyboard)
		}
		if data.Response != nil && msg.Keyboard == nil {
			msg.Keyboard = &Keyboard{
				State:    KeyboardStateCompleted,
				Response: &KeyboardResponse{ButtonID: data.Response.ButtonID, MessageID: data.Response.MessageID},
			}
		}
		msg.StickerID = data.StickerID
	}
	return msg
}

func quoteFromItem(item *wire.QuoteItem) *Quote {
	quote := &Quote{}
	switch item.State {
	case wire.QuoteStatePending:
		quote.State = QuoteStatePending
	case wire.QuoteStateFilled:
		quote.State = QuoteStateFilled
	default:
		quote.State = QuoteStateNotFound
	}
	if item.Message != nil {
		quote.MessageID = item.Message.ID
		quote.SenderName = item.Message.SenderName
		quote.Text = content.Sanitize(item.Message.Text)
		quote.TimeMicros = item.Message.TimeMicros
	}
	return quote
}

func attachmentFromData(file *wire.FileData) *Attachment {
	attachment := &Attachment{Progress: file.Progress}
	switch file.State {
	case wire.FileStateUpload:
		attachment.State = AttachmentStateUploading
	case wire.FileStateReady:
		attachment.State = AttachmentStateReady
	case wire.FileStateError:
		attachment.State = AttachmentStateError
		attachment.ErrorType = file.ErrorType
		attachment.ErrorMessage = file.ErrorText
	case wire.FileStateExternalChecks:
		attachment.State = AttachmentStateExternalChecks
	default:
		attachment.State = AttachmentStateUnknown
	}
	if file.Properties != nil {
		attachment.Filename = file.Properties.Filename
		attachment.Size = file.Properties.Size
		attachment.ContentType = file.Properties.ContentType
		attachment.URL = file.Properties.URL
		if file.Properties.ImageSize != nil {
			attachment.ImageWidth = file.Properties.ImageSize.Width
			attachment.ImageHeight = file.Properties.ImageSize.Height
		}
	}
	return attachment
}

func keyboardFromItem(item *wire.KeyboardItem) *Keyboard {
	keyboard := &Keyboard{}
	switch item.State {
	case wire.KeyboardStatePending:
		keyboard.State = KeyboardStatePending
	case wire.KeyboardStateCompleted:
		keyboard.State = KeyboardStateCompleted
	default:
		keyboard.State = KeyboardStateCanceled
	}
	for _, row := range item.Buttons {
		buttons := make([]KeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, KeyboardButton{ID: b.ID, Text: b.Text})
		}
		keyboard.Buttons = append(keyboard.Buttons, buttons)
	}
	if item.Response != nil {
		keyboard.Response = &KeyboardResponse{
			ButtonID:  item.Response.ButtonID,
			MessageID: item.Response.MessageID,
		}
	}
	return keyboard
}

// messageToRecord converts a message to its persisted form.
func messageToRecord(msg Message) histstore.DBMessage {
	record := histstore.DBMessage{
		ClientSideID: msg.ID,
		ServerSideID: msg.ServerSideID,
		Kind:         wireKindForType(msg.Type),
		Text:         msg.Text,
		SenderName:   msg.SenderName,
		AvatarURL:    msg.SenderAvatar,
		OperatorID:   msg.OperatorID,
		TimeMicros:   msg.TimeMicros,
		Edited:       msg.IsEdited,
		Reaction:     string(msg.Reaction),
	}
	if msg.Attachment != nil || msg.Keyboard != nil || msg.StickerID != 0 {
		if data, err := json.Marshal(messageDataForStore(msg)); err == nil {
			record.Data = data
		}
	}
	if msg.Quote != nil {
		if quote, err := json.Marshal(msg.Quote); err == nil {
			record.Quote = quote
		}
	}
	return record
}

func messageDataForStore(msg Message) map[string]any {
	payload := make(map[string]any)
	if msg.Attachment != nil {
		payload["attachment"] = msg.Attachment
	}
	if msg.Keyboard != nil {
		payload["keyboard"] = msg.Keyboard
	}
	if msg.StickerID != 0 {
		payload["stickerId"] = msg.StickerID
	}
	return payload
}

// messageFromRecord restores a message from the history store.
func messageFromRecord(record histstore.DBMessage) Message {
	msg := Message{
		ID:           record.ClientSideID,
		ServerSideID: record.ServerSideID,
		Type:         parseMessageType(record.Kind),
		Text:         record.Text,
		TimeMicros:   record.TimeMicros,
		SendStatus:   SendStatusSent,
		SenderName:   record.SenderName,
		SenderAvatar: record.AvatarURL,
		OperatorID:   record.OperatorID,
		IsEdited:     record.Edited,
		Reaction:     Reaction(record.Reaction),
	}
	if len(record.Data) > 0 {
		var payload struct {
			Attachment *Attachment `json:"attachment"`
			Keyboard   *Keyboard   `json:"keyboard"`
			StickerID  int         `json:"stickerId"`
		}
		if err := json.Unmarshal(record.Data, &payload); err == nil {
			msg.Attachment = payload.Attachment
			msg.Keyboard = payload.Keyboard
			msg.StickerID = payload.StickerID
		}
	}
	if len(record.Quote) > 0 {
		var quote Quote
		if err := json.Unmarshal(record.Quote, &quote); err == nil {
			msg.Quote = &quote
		}
	}
	return msg
}
