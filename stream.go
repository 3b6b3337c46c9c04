package chatkit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chatkit/internal/content"
	"chatkit/internal/wire"
)

// MessageStream is the authoritative in-memory projection of the
// current chat: the chat-level state machines, the assigned operator,
// unread counters, department list and survey, plus the listener
// registration surface. It is mutated only on the session's home
// context — by delta application and by the visitor's own actions.
type MessageStream struct {
	session *Session

	chatID            string
	chatState         ChatState
	visitSessionState VisitSessionState
	operator          *Operator
	operatorTyping    bool
	unreadByVisitor   int
	unreadByOperator  time.Time
	readByVisitor     bool
	departments       []Department
	onlineStatus      OnlineStatus
	survey            *Survey
	operatorRates     map[string]int

	repo      *messageRepository
	listeners streamListeners
}

func newMessageStream(session *Session) *MessageStream {
	return &MessageStream{
		session:           session,
		chatState:         ChatStateUnknown,
		visitSessionState: VisitSessionStateUnknown,
		onlineStatus:      OnlineStatusUnknown,
		operatorRates:     make(map[string]int),
		repo:              newMessageRepository(),
	}
}

// --- getters ---

func (s *MessageStream) GetChatState() (ChatState, error) {
	if err := s.session.checkAccess(); err != nil {
		return ChatStateUnknown, err
	}
	var state ChatState
	s.session.queue.Call(func() { state = s.chatState })
	return state, nil
}

func (s *MessageStream) GetVisitSessionState() (VisitSessionState, error) {
	if err := s.session.checkAccess(); err != nil {
		return VisitSessionStateUnknown, err
	}
	var state VisitSessionState
	s.session.queue.Call(func() { state = s.visitSessionState })
	return state, nil
}

func (s *MessageStream) GetCurrentOperator() (*Operator, error) {
	if err := s.session.checkAccess(); err != nil {
		return nil, err
	}
	var operator *Operator
	s.session.queue.Call(func() {
		if s.operator != nil {
			copied := *s.operator
			operator = &copied
		}
	})
	return operator, nil
}

func (s *MessageStream) GetUnreadByVisitorMessageCount() (int, error) {
	if err := s.session.checkAccess(); err != nil {
		return 0, err
	}
	var count int
	s.session.queue.Call(func() { count = s.unreadByVisitor })
	return count, nil
}

func (s *MessageStream) GetUnreadByOperatorTimestamp() (time.Time, error) {
	if err := s.session.checkAccess(); err != nil {
		return time.Time{}, err
	}
	var ts time.Time
	s.session.queue.Call(func() { ts = s.unreadByOperator })
	return ts, nil
}

func (s *MessageStream) GetDepartmentList() ([]Department, error) {
	if err := s.session.checkAccess(); err != nil {
		return nil, err
	}
	var departments []Department
	s.session.queue.Call(func() {
		departments = make([]Department, len(s.departments))
		copy(departments, s.departments)
	})
	return departments, nil
}

func (s *MessageStream) GetOnlineStatus() (OnlineStatus, error) {
	if err := s.session.checkAccess(); err != nil {
		return OnlineStatusUnknown, err
	}
	var status OnlineStatus
	s.session.queue.Call(func() { status = s.onlineStatus })
	return status, nil
}

func (s *MessageStream) GetSurvey() (*Survey, error) {
	if err := s.session.checkAccess(); err != nil {
		return nil, err
	}
	var survey *Survey
	s.session.queue.Call(func() {
		if s.survey != nil {
			copied := *s.survey
			survey = &copied
		}
	})
	return survey, nil
}

// GetLastOperatorRating returns the visitor's stored rating of the
// given operator, or zero if none.
func (s *MessageStream) GetLastOperatorRating(operatorID string) (int, error) {
	if err := s.session.checkAccess(); err != nil {
		return 0, err
	}
	var rating int
	s.session.queue.Call(func() { rating = s.operatorRates[operatorID] })
	return rating, nil
}

// --- listener registration (one slot per kind, replacing) ---

func (s *MessageStream) SetChatStateListener(l ChatStateListener) error {
	return s.setListener(func() { s.listeners.chatState = l })
}

func (s *MessageStream) SetVisitSessionStateListener(l VisitSessionStateListener) error {
	return s.setListener(func() { s.listeners.visitSessionState = l })
}

func (s *MessageStream) SetCurrentOperatorListener(l CurrentOperatorListener) error {
	return s.setListener(func() { s.listeners.operator = l })
}

func (s *MessageStream) SetOperatorTypingListener(l OperatorTypingListener) error {
	return s.setListener(func() { s.listeners.operatorTyping = l })
}

func (s *MessageStream) SetDepartmentListListener(l DepartmentListListener) error {
	return s.setListener(func() { s.listeners.departmentList = l })
}

func (s *MessageStream) SetUnreadByVisitorCountListener(l UnreadByVisitorCountListener) error {
	return s.setListener(func() { s.listeners.unreadByVisitor = l })
}

func (s *MessageStream) SetUnreadByOperatorTimestampListener(l UnreadByOperatorTimestampListener) error {
	return s.setListener(func() { s.listeners.unreadByOperator = l })
}

func (s *MessageStream) SetOnlineStatusListener(l OnlineStatusListener) error {
	return s.setListener(func() { s.listeners.onlineStatus = l })
}

func (s *MessageStream) SetHelloMessageListener(l HelloMessageListener) error {
	return s.setListener(func() { s.listeners.helloMessage = l })
}

func (s *MessageStream) SetSurveyListener(l SurveyListener) error {
	return s.setListener(func() { s.listeners.survey = l })
}

func (s *MessageStream) setListener(assign func()) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	s.session.queue.Call(assign)
	return nil
}

// --- local-intent operations ---

// StartChat opens a chat, optionally routed to a department and seeded
// with a first question. The chat state change arrives via deltas.
func (s *MessageStream) StartChat(departmentKey, firstQuestion string, completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	clientSideID := uuid.NewString()
	if firstQuestion != "" {
		s.insertEcho(Message{
			ID:         clientSideID,
			Type:       MessageTypeVisitor,
			Text:       firstQuestion,
			TimeMicros: time.Now().UnixMicro(),
			SendStatus: SendStatusSending,
		})
	}
	s.session.runAction(completion, nil, func(ctx context.Context) error {
		return s.session.transport.StartChat(ctx, clientSideID, departmentKey, firstQuestion)
	})
	return nil
}

func (s *MessageStream) CloseChat(completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	s.session.runAction(completion, nil, func(ctx context.Context) error {
		return s.session.transport.CloseChat(ctx)
	})
	return nil
}

// SendMessage inserts an optimistic local echo with SendStatusSending
// and returns its client-side ID immediately. The server ack arrives
// through the delta path and replaces the echo via one changed
// notification.
func (s *MessageStream) SendMessage(text string, completion func(error)) (string, error) {
	if err := s.session.checkAccess(); err != nil {
		return "", err
	}
	if err := validateMessageText(text); err != nil {
		return "", err
	}

	clientSideID := uuid.NewString()
	s.insertEcho(Message{
		ID:         clientSideID,
		Type:       MessageTypeVisitor,
		Text:       text,
		TimeMicros: time.Now().UnixMicro(),
		SendStatus: SendStatusSending,
	})
	s.session.runAction(completion, mapSendError, func(ctx context.Context) error {
		return s.session.transport.SendMessage(ctx, clientSideID, text)
	})
	return clientSideID, nil
}

// SendSticker sends a sticker message, with the same echo semantics as
// SendMessage.
func (s *MessageStream) SendSticker(stickerID int, completion func(error)) (string, error) {
	if err := s.session.checkAccess(); err != nil {
		return "", err
	}
	clientSideID := uuid.NewString()
	s.insertEcho(Message{
		ID:         clientSideID,
		Type:       MessageTypeSticker,
		StickerID:  stickerID,
		TimeMicros: time.Now().UnixMicro(),
		SendStatus: SendStatusSending,
	})
	s.session.runAction(completion, mapSendError, func(ctx context.Context) error {
		return s.session.transport.SendSticker(ctx, clientSideID, stickerID)
	})
	return clientSideID, nil
}

// SendFile uploads file bytes, echoing a file message whose attachment
// starts in the uploading state. On upload failure the echo's
// attachment flips to the error state before the completion fires.
func (s *MessageStream) SendFile(filename string, data []byte, completion func(error)) (string, error) {
	if err := s.session.checkAccess(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", SendFileErrorUnknown
	}

	clientSideID := uuid.NewString()
	echo := Message{
		ID:         clientSideID,
		Type:       MessageTypeFileFromVisitor,
		TimeMicros: time.Now().UnixMicro(),
		SendStatus: SendStatusSending,
		Attachment: &Attachment{
			State:    AttachmentStateUploading,
			Filename: filename,
			Size:     int64(len(data)),
		},
	}
	s.insertEcho(echo)
	s.session.runAction(completion, mapSendFileError, func(ctx context.Context) error {
		err := s.session.transport.UploadFile(ctx, clientSideID, filename, data)
		if err != nil {
			s.session.queue.Post(func() { s.markAttachmentFailed(clientSideID, err) })
		}
		return err
	})
	return clientSideID, nil
}

// EditMessage replaces the text of one of the visitor's own messages.
// The replacement is optimistic; a server rejection rolls it back
// before the completion handler runs.
func (s *MessageStream) EditMessage(id, newText string, completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	switch content.ValidateOutgoing(newText) {
	case content.ErrEmptyText:
		return EditMessageErrorEmpty
	case content.ErrTooLongText:
		return EditMessageErrorTooLong
	}

	var precondition error
	var original Message
	s.session.queue.Call(func() {
		msg, ok := s.repo.get(id)
		if !ok {
			precondition = EditMessageErrorNotOwned
			return
		}
		if msg.Type != MessageTypeVisitor {
			if msg.Type == MessageTypeOperator || msg.Type == MessageTypeFileFromOperator {
				precondition = EditMessageErrorNotOwned
			} else {
				precondition = EditMessageErrorWrongKind
			}
			return
		}
		original = msg
		updated := msg
		updated.Text = newText
		updated.IsEdited = true
		updated.SendStatus = SendStatusSending
		s.replaceMessage(updated)
	})
	if precondition != nil {
		return precondition
	}

	s.session.runAction(completion, mapEditError, func(ctx context.Context) error {
		err := s.session.transport.EditMessage(ctx, id, newText)
		if err != nil {
			s.session.queue.Post(func() { s.replaceMessage(original) })
		}
		return err
	})
	return nil
}

// DeleteMessage removes one of the visitor's own messages. The removal
// is optimistic; a server rejection restores the message.
func (s *MessageStream) DeleteMessage(id string, completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}

	var precondition error
	var original Message
	s.session.queue.Call(func() {
		msg, ok := s.repo.get(id)
		if !ok {
			precondition = DeleteMessageErrorNotFound
			return
		}
		if msg.Type != MessageTypeVisitor && msg.Type != MessageTypeFileFromVisitor && msg.Type != MessageTypeSticker {
			precondition = DeleteMessageErrorNotOwned
			return
		}
		original = msg
		s.removeMessage(id)
	})
	if precondition != nil {
		return precondition
	}

	s.session.runAction(completion, mapDeleteError, func(ctx context.Context) error {
		err := s.session.transport.DeleteMessage(ctx, id)
		if err != nil {
			s.session.queue.Post(func() { s.applyMessageValue(original) })
		}
		return err
	})
	return nil
}

// ReactMessage sets or replaces the visitor's reaction on an operator
// message.
func (s *MessageStream) ReactMessage(id string, reaction Reaction, completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}

	var precondition error
	var original Message
	s.session.queue.Call(func() {
		msg, ok := s.repo.get(id)
		if !ok {
			precondition = ReactionErrorMessageNotFound
			return
		}
		if !msg.CanReact {
			precondition = ReactionErrorNotAllowed
			return
		}
		original = msg
		updated := msg
		updated.Reaction = reaction
		s.replaceMessage(updated)
	})
	if precondition != nil {
		return precondition
	}

	s.session.runAction(completion, mapReactionError, func(ctx context.Context) error {
		err := s.session.transport.ReactMessage(ctx, id, string(reaction))
		if err != nil {
			s.session.queue.Post(func() { s.replaceMessage(original) })
		}
		return err
	})
	return nil
}

// RateOperatorWith rates an operator from 1 to 5.
func (s *MessageStream) RateOperatorWith(operatorID string, rating int, completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	if rating < 1 || rating > 5 {
		return RateOperatorErrorWrongRating
	}
	s.session.runAction(completion, mapRateError, func(ctx context.Context) error {
		return s.session.transport.RateOperator(ctx, operatorID, rating)
	})
	return nil
}

// SendKeyboardRequest answers a bot keyboard by button ID.
func (s *MessageStream) SendKeyboardRequest(requestMessageID, buttonID string, completion func(error)) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	if buttonID == "" {
		return KeyboardResponseErrorButtonNotSet
	}
	if requestMessageID == "" {
		return KeyboardResponseErrorRequestNotFound
	}
	s.session.runAction(completion, mapKeyboardError, func(ctx context.Context) error {
		return s.session.transport.SendKeyboardResponse(ctx, requestMessageID, buttonID)
	})
	return nil
}

// SetVisitorTyping reports the visitor's typing state. A non-empty
// draft is piggybacked onto the notification; empty draft means typing
// stopped. Fire and forget: transport failures are only logged.
func (s *MessageStream) SetVisitorTyping(draft string) error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	s.session.runAction(nil, nil, func(ctx context.Context) error {
		return s.session.transport.SetVisitorTyping(ctx, draft != "", draft)
	})
	return nil
}

// SetChatRead marks the chat read by the visitor. The unread counter
// drops to zero immediately.
func (s *MessageStream) SetChatRead() error {
	if err := s.session.checkAccess(); err != nil {
		return err
	}
	s.session.queue.Call(func() {
		s.readByVisitor = true
		s.setUnreadByVisitor(0)
	})
	s.session.runAction(nil, nil, func(ctx context.Context) error {
		return s.session.transport.SetChatRead(ctx)
	})
	return nil
}

func validateMessageText(text string) error {
	switch content.ValidateOutgoing(text) {
	case content.ErrEmptyText:
		return SendMessageErrorEmpty
	case content.ErrTooLongText:
		return SendMessageErrorTooLong
	}
	return nil
}

// --- mutation helpers, home context only ---

func (s *MessageStream) insertEcho(echo Message) {
	s.session.queue.Call(func() {
		_, previous, _ := s.repo.upsert(echo)
		s.session.notifyMessageAdded(echo, previous)
	})
}

// replaceMessage swaps a message value under its ID and reports one
// changed notification.
func (s *MessageStream) replaceMessage(updated Message) {
	old, _, replaced := s.repo.upsert(updated)
	if replaced {
		s.persistMessage(updated)
		s.session.notifyMessageChanged(*old, updated)
	}
}

func (s *MessageStream) removeMessage(id string) {
	msg, ok := s.repo.remove(id)
	if !ok {
		return
	}
	if store := s.session.store; store != nil {
		if err := store.DeleteMessage(id); err != nil {
			s.session.logger.Warn("failed to delete message from history store", "id", id, "error", err)
		}
	}
	s.session.notifyMessageRemoved(msg)
}

// applyMessageValue inserts or replaces a message and fires the
// matching tracker notification.
func (s *MessageStream) applyMessageValue(msg Message) {
	old, previous, replaced := s.repo.upsert(msg)
	s.persistMessage(msg)
	if replaced {
		s.session.notifyMessageChanged(*old, msg)
	} else {
		s.session.notifyMessageAdded(msg, previous)
	}
}

func (s *MessageStream) persistMessage(msg Message) {
	store := s.session.store
	if store == nil || msg.SendStatus != SendStatusSent {
		return
	}
	if err := store.UpsertMessage(messageToRecord(msg)); err != nil {
		s.session.logger.Warn("failed to persist message", "id", msg.ID, "error", err)
	}
}

func (s *MessageStream) markAttachmentFailed(id string, cause error) {
	msg, ok := s.repo.get(id)
	if !ok || msg.Attachment == nil {
		return
	}
	updated := msg
	attachment := *msg.Attachment
	attachment.State = AttachmentStateError
	attachment.ErrorMessage = cause.Error()
	updated.Attachment = &attachment
	s.replaceMessage(updated)
}

// --- state setters, home context only ---

func (s *MessageStream) setChatState(next ChatState) {
	if next == s.chatState {
		return
	}
	previous := s.chatState
	s.chatState = next
	if l := s.listeners.chatState; l != nil {
		l.ChatStateChanged(previous, next)
	}
}

func (s *MessageStream) setVisitSessionState(next VisitSessionState) {
	if next == s.visitSessionState {
		return
	}
	previous := s.visitSessionState
	s.visitSessionState = next
	if l := s.listeners.visitSessionState; l != nil {
		l.VisitSessionStateChanged(previous, next)
	}
}

func (s *MessageStream) setOperator(next *Operator) {
	previous := s.operator
	if previous == nil && next == nil {
		return
	}
	if previous != nil && next != nil && *previous == *next {
		return
	}
	s.operator = next
	if l := s.listeners.operator; l != nil {
		l.OperatorChanged(previous, next)
	}
}

func (s *MessageStream) setOperatorTyping(typing bool) {
	if typing == s.operatorTyping {
		return
	}
	s.operatorTyping = typing
	if l := s.listeners.operatorTyping; l != nil {
		l.OperatorTypingStateChanged(typing)
	}
}

func (s *MessageStream) setUnreadByVisitor(count int) {
	if count == s.unreadByVisitor {
		return
	}
	s.unreadByVisitor = count
	if l := s.listeners.unreadByVisitor; l != nil {
		l.UnreadByVisitorCountChanged(count)
	}
}

func (s *MessageStream) setUnreadByOperator(ts time.Time) {
	if ts.Equal(s.unreadByOperator) {
		return
	}
	s.unreadByOperator = ts
	if l := s.listeners.unreadByOperator; l != nil {
		l.UnreadByOperatorTimestampChanged(ts)
	}
}

func (s *MessageStream) setOnlineStatus(next OnlineStatus) {
	if next == s.onlineStatus {
		return
	}
	previous := s.onlineStatus
	s.onlineStatus = next
	if l := s.listeners.onlineStatus; l != nil {
		l.OnlineStatusChanged(previous, next)
	}
}

func (s *MessageStream) setDepartments(departments []Department) {
	s.departments = departments
	if l := s.listeners.departmentList; l != nil {
		l.DepartmentListChanged(departments)
	}
}

func (s *MessageStream) setSurvey(survey *Survey) {
	s.survey = survey
	if l := s.listeners.survey; l != nil {
		if survey != nil {
			l.SurveyStarted(survey)
		} else {
			l.SurveyCancelled()
		}
	}
}

// --- delta application, home context only ---

// applyFullUpdate replaces the aggregate wholesale from a bootstrap
// snapshot.
func (s *MessageStream) applyFullUpdate(fu *wire.FullUpdate) {
	if fu.PageID != "" || fu.AuthToken != "" {
		s.session.transport.SetIdentity(fu.PageID, fu.AuthToken)
		if store := s.session.store; store != nil {
			if err := store.SaveIdentity(fu.PageID, fu.AuthToken); err != nil {
				s.session.logger.Warn("failed to persist identity", "error", err)
			}
		}
	}

	s.setVisitSessionState(parseVisitSessionState(fu.State))
	s.setOnlineStatus(parseOnlineStatus(fu.OnlineStatus))
	if fu.Departments != nil {
		s.setDepartments(departmentsFromItems(fu.Departments))
	}
	if fu.Survey != nil {
		s.setSurvey(surveyFromItem(fu.Survey))
	}
	if s.repo.size() > 0 {
		s.repo.removeAll()
		s.session.notifyMessagesRemovedAll()
	}

	if fu.Chat != nil {
		s.applyChatItem(fu.Chat)
	} else {
		s.setChatState(ChatStateClosed)
	}

	if fu.ShowHelloMessage && fu.HelloMessageDescr != "" {
		if l := s.listeners.helloMessage; l != nil {
			l.HelloMessage(fu.HelloMessageDescr)
		}
	}
}

// applyChatItem replaces the chat-level slice of the aggregate.
// Full-update and CHAT-delta payloads set state directly, bypassing the
// transition table: a snapshot is authoritative.
func (s *MessageStream) applyChatItem(chat *wire.ChatItem) {
	s.chatID = chat.ID
	s.setChatState(parseChatState(chat.State))
	s.setOperator(operatorFromItem(chat.Operator))
	s.setOperatorTyping(chat.OperatorTyping)
	s.setUnreadByVisitor(chat.UnreadByVisitorCount)
	s.setUnreadByOperator(timeFromSeconds(chat.UnreadByOperatorSince))
	if chat.ReadByVisitor != nil {
		s.readByVisitor = *chat.ReadByVisitor
	}
	for i := range chat.Messages {
		s.applyMessageValue(messageFromItem(&chat.Messages[i]))
	}
}

// applyDeltaList applies one poll response's items in array order.
// Undecodable or unknown items are skipped and logged, never fatal.
func (s *MessageStream) applyDeltaList(items []wire.DeltaItem) {
	logger := s.session.logger
	for i := range items {
		item := &items[i]
		switch item.EntityType() {
		case wire.EntityChatMessage:
			s.applyMessageDelta(item)
		case wire.EntityChatState:
			var raw string
			if err := json.Unmarshal(item.Data, &raw); err != nil {
				logger.Warn("undecodable chat state delta", "error", err)
				continue
			}
			next := parseChatState(raw)
			if !canTransitionChatState(s.chatState, next) {
				logger.Warn("illegal chat state transition ignored",
					"from", s.chatState, "to", next)
				continue
			}
			s.setChatState(next)
		case wire.EntityVisitSessionState:
			var state wire.VisitSessionStateItem
			if err := json.Unmarshal(item.Data, &state); err != nil {
				logger.Warn("undecodable visit session state delta", "error", err)
				continue
			}
			s.setVisitSessionState(parseVisitSessionState(state.State))
		case wire.EntityChat:
			if item.Event() == wire.EventDelete {
				s.setChatState(ChatStateClosed)
				continue
			}
			var chat wire.ChatItem
			if err := json.Unmarshal(item.Data, &chat); err != nil {
				logger.Warn("undecodable chat delta", "error", err)
				continue
			}
			s.applyChatItem(&chat)
		case wire.EntityChatOperator:
			if string(item.Data) == "null" {
				s.setOperator(nil)
				continue
			}
			var operator wire.OperatorItem
			if err := json.Unmarshal(item.Data, &operator); err != nil {
				logger.Warn("undecodable operator delta", "error", err)
				continue
			}
			s.setOperator(operatorFromItem(&operator))
		case wire.EntityChatOperatorTyping:
			var typing bool
			if err := json.Unmarshal(item.Data, &typing); err != nil {
				logger.Warn("undecodable operator typing delta", "error", err)
				continue
			}
			s.setOperatorTyping(typing)
		case wire.EntityChatReadByVisitor:
			var read bool
			if err := json.Unmarshal(item.Data, &read); err != nil {
				logger.Warn("undecodable read-by-visitor delta", "error", err)
				continue
			}
			s.readByVisitor = read
			if read {
				s.setUnreadByVisitor(0)
			}
		case wire.EntityChatMessageRead:
			s.applyMessageRead(item)
		case wire.EntityUnreadByOperatorTS:
			var seconds float64
			if string(item.Data) == "null" {
				s.setUnreadByOperator(time.Time{})
				continue
			}
			if err := json.Unmarshal(item.Data, &seconds); err != nil {
				logger.Warn("undecodable unread-by-operator delta", "error", err)
				continue
			}
			s.setUnreadByOperator(timeFromSeconds(seconds))
		case wire.EntityUnreadByVisitor:
			s.applyUnreadByVisitor(item)
		case wire.EntityDepartmentList:
			var departments []wire.DepartmentItem
			if err := json.Unmarshal(item.Data, &departments); err != nil {
				logger.Warn("undecodable department list delta", "error", err)
				continue
			}
			s.setDepartments(departmentsFromItems(departments))
		case wire.EntityHistoryRevision:
			var revision struct {
				Revision string `json:"revision"`
			}
			if err := json.Unmarshal(item.Data, &revision); err != nil {
				// Older endpoint versions send a bare string.
				var raw string
				if err := json.Unmarshal(item.Data, &raw); err != nil {
					logger.Warn("undecodable history revision delta", "error", err)
					continue
				}
				revision.Revision = raw
			}
			s.saveHistoryRevision(revision.Revision)
		case wire.EntityOperatorRate:
			var rate wire.OperatorRateItem
			if err := json.Unmarshal(item.Data, &rate); err != nil {
				logger.Warn("undecodable operator rate delta", "error", err)
				continue
			}
			s.operatorRates[rate.OperatorID.String()] = rate.Rating
		case wire.EntitySurvey:
			if string(item.Data) == "null" || item.Event() == wire.EventDelete {
				s.setSurvey(nil)
				continue
			}
			var survey wire.SurveyItem
			if err := json.Unmarshal(item.Data, &survey); err != nil {
				logger.Warn("undecodable survey delta", "error", err)
				continue
			}
			s.setSurvey(surveyFromItem(&survey))
		case wire.EntityChatID:
			var id string
			if err := json.Unmarshal(item.Data, &id); err != nil {
				logger.Warn("undecodable chat id delta", "error", err)
				continue
			}
			s.chatID = id
		case wire.EntityVisitSession:
			// Carries page identity refreshes; nothing to project.
		default:
			logger.Debug("skipping unknown delta", "object_type", item.RawType)
		}
	}
}

func (s *MessageStream) applyMessageDelta(item *wire.DeltaItem) {
	logger := s.session.logger
	switch item.Event() {
	case wire.EventAdd, wire.EventUpdate:
		decoded, err := wire.DecodeMessageItem(item.Data)
		if err != nil {
			logger.Warn("undecodable message delta", "error", err)
			return
		}
		s.applyMessageValue(messageFromItem(decoded))
	case wire.EventDelete:
		id := item.ID
		var raw string
		if err := json.Unmarshal(item.Data, &raw); err == nil && raw != "" {
			id = raw
		}
		// Unknown IDs are a valid no-op: the delete may race a message
		// this client never materialized.
		s.removeMessage(id)
	default:
		logger.Warn("message delta with unknown event", "event", item.RawEvent)
	}
}

func (s *MessageStream) applyMessageRead(item *wire.DeltaItem) {
	var read bool
	if err := json.Unmarshal(item.Data, &read); err != nil {
		s.session.logger.Warn("undecodable message read delta", "error", err)
		return
	}
	// The delta ID addresses the message by its server-side identifier.
	for _, msg := range s.repo.all() {
		if msg.ServerSideID == item.ID && msg.ReadByOperator != read {
			updated := msg
			updated.ReadByOperator = read
			s.replaceMessage(updated)
			return
		}
	}
}

func (s *MessageStream) applyUnreadByVisitor(item *wire.DeltaItem) {
	var count int
	if err := json.Unmarshal(item.Data, &count); err == nil {
		s.setUnreadByVisitor(count)
		return
	}
	var payload struct {
		Count int `json:"msgCnt"`
	}
	if err := json.Unmarshal(item.Data, &payload); err != nil {
		s.session.logger.Warn("undecodable unread-by-visitor delta", "error", err)
		return
	}
	s.setUnreadByVisitor(payload.Count)
}

func (s *MessageStream) saveHistoryRevision(revision string) {
	if store := s.session.store; store != nil {
		if err := store.SaveHistoryRevision(revision); err != nil {
			s.session.logger.Warn("failed to persist history revision", "error", err)
		}
	}
}

// --- conversions ---

func operatorFromItem(item *wire.OperatorItem) *Operator {
	if item == nil {
		return nil
	}
	return &Operator{
		ID:        item.ID.String(),
		Name:      item.Fullname,
		AvatarURL: item.AvatarURL,
		Title:     item.Title,
		Info:      item.Info,
	}
}

func departmentsFromItems(items []wire.DepartmentItem) []Department {
	departments := make([]Department, 0, len(items))
	for _, item := range items {
		departments = append(departments, Department{
			Key:            item.Key,
			Name:           item.Name,
			OnlineStatus:   parseOnlineStatus(item.OnlineStatus),
			Order:          item.Order,
			LocalizedNames: item.LocalizedNames,
			LogoURL:        item.LogoURL,
		})
	}
	return departments
}

func surveyFromItem(item *wire.SurveyItem) *Survey {
	survey := &Survey{ID: item.ID}
	if item.Config != nil {
		for _, form := range item.Config.Forms {
			converted := SurveyForm{ID: form.ID.String()}
			for _, q := range form.Questions {
				converted.Questions = append(converted.Questions, SurveyQuestion{
					Type:    parseSurveyQuestionType(q.Type),
					Text:    q.Text,
					Options: q.Options,
				})
			}
			survey.Forms = append(survey.Forms, converted)
		}
	}
	if item.CurrentQuestionInfo != nil {
		survey.CurrentFormID = item.CurrentQuestionInfo.FormID.String()
		survey.CurrentQuestion = item.CurrentQuestionInfo.QuestionIndex
	}
	return survey
}

func timeFromSeconds(seconds float64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(seconds * 1e6))
}
