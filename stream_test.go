package chatkit

import (
	"fmt"
	"testing"
	"time"

	"chatkit/internal/wire"
)

func chattingFullUpdate() *wire.FullUpdate {
	readByVisitor := false
	return &wire.FullUpdate{
		PageID:       "p1",
		AuthToken:    "t1",
		State:        "chat",
		OnlineStatus: "online",
		Departments: []wire.DepartmentItem{
			{Key: "sales", Name: "Sales", OnlineStatus: "online", Order: 1},
		},
		Chat: &wire.ChatItem{
			ID:    "chat1",
			State: "chatting",
			Operator: &wire.OperatorItem{
				ID:       "17",
				Fullname: "Alex",
			},
			UnreadByVisitorCount: 2,
			ReadByVisitor:        &readByVisitor,
			Messages: []wire.MessageItem{
				{ClientSideID: "m1", Kind: wire.KindInfo, Text: "chat started", TimeMicros: 100},
				{ClientSideID: "m2", ID: "srv2", Kind: wire.KindOperator, Text: "hello", TimeMicros: 200},
			},
		},
	}
}

func TestApplyFullUpdateSeedsAggregate(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, err := s.Stream()
	if err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())

	if state, _ := stream.GetChatState(); state != ChatStateChatting {
		t.Fatalf("chat state = %q", state)
	}
	if state, _ := stream.GetVisitSessionState(); state != VisitSessionStateChat {
		t.Fatalf("visit session state = %q", state)
	}
	if status, _ := stream.GetOnlineStatus(); status != OnlineStatusOnline {
		t.Fatalf("online status = %q", status)
	}
	operator, _ := stream.GetCurrentOperator()
	if operator == nil || operator.ID != "17" || operator.Name != "Alex" {
		t.Fatalf("operator = %+v", operator)
	}
	if count, _ := stream.GetUnreadByVisitorMessageCount(); count != 2 {
		t.Fatalf("unread count = %d", count)
	}
	departments, _ := stream.GetDepartmentList()
	if len(departments) != 1 || departments[0].Key != "sales" {
		t.Fatalf("departments = %+v", departments)
	}
}

func TestFullUpdateWithoutChatClosesState(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()

	applyFull(s, &wire.FullUpdate{State: "idle", OnlineStatus: "online"})

	if state, _ := stream.GetChatState(); state != ChatStateClosed {
		t.Fatalf("chat state = %q", state)
	}
}

func TestChatStateDeltaHonorsTransitionTable(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	recorder := &chatStateRecorder{}
	if err := stream.SetChatStateListener(recorder); err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())
	applyDeltas(s, delta("CHAT_STATE", "upd", "chat1", `"closed_by_operator"`))

	if state, _ := stream.GetChatState(); state != ChatStateClosedByOperator {
		t.Fatalf("chat state = %q", state)
	}

	// chatting is not reachable from closed_by_operator; the delta must
	// be dropped without a listener call.
	seen := len(recorder.transitions)
	applyDeltas(s, delta("CHAT_STATE", "upd", "chat1", `"chatting"`))
	if state, _ := stream.GetChatState(); state != ChatStateClosedByOperator {
		t.Fatalf("illegal transition applied, state = %q", state)
	}
	if len(recorder.transitions) != seen {
		t.Fatalf("listener called for a dropped transition: %v", recorder.transitions)
	}
}

func TestUndecodableDeltaIsSkipped(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()

	applyFull(s, chattingFullUpdate())
	applyDeltas(s,
		delta("CHAT_STATE", "upd", "chat1", `{"not": "a string"}`),
		delta("CHAT_OPERATOR_TYPING", "upd", "chat1", `true`),
	)

	// The bad item is dropped, the rest of the list still applies.
	if state, _ := stream.GetChatState(); state != ChatStateChatting {
		t.Fatalf("state = %q", state)
	}
	var typing bool
	s.queue.Call(func() { typing = s.stream.operatorTyping })
	if !typing {
		t.Fatal("delta after the undecodable one was not applied")
	}
}

func TestSendMessageEchoAndAck(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	recorder := &messageRecorder{}
	if _, err := s.NewMessageTracker(recorder); err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())
	seenAdds := len(recorder.added)

	done := make(chan error, 1)
	id, err := stream.SendMessage("hi there", func(err error) { done <- err })
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty client-side id")
	}

	if len(recorder.added) != seenAdds+1 {
		t.Fatalf("echo not delivered: %d adds", len(recorder.added)-seenAdds)
	}
	echo := recorder.added[len(recorder.added)-1].message
	if echo.ID != id || echo.SendStatus != SendStatusSending || echo.Text != "hi there" {
		t.Fatalf("echo = %+v", echo)
	}

	if err := waitCompletion(t, done); err != nil {
		t.Fatalf("completion error: %v", err)
	}

	// Server ack arrives as a delta sharing the client-side ID.
	ack := fmt.Sprintf(`{"clientSideId":%q,"id":"srv9","kind":"visitor","text":"hi there","ts_m":300}`, id)
	applyDeltas(s, delta("CHAT_MESSAGE", "upd", id, ack))

	if len(recorder.added) != seenAdds+1 {
		t.Fatal("ack produced a second added notification")
	}
	if len(recorder.changed) != 1 {
		t.Fatalf("ack produced %d changed notifications, want 1", len(recorder.changed))
	}
	old, updated := recorder.changed[0][0], recorder.changed[0][1]
	if old.SendStatus != SendStatusSending || updated.SendStatus != SendStatusSent {
		t.Fatalf("statuses: %q -> %q", old.SendStatus, updated.SendStatus)
	}
	if updated.ServerSideID != "srv9" {
		t.Fatalf("server id = %q", updated.ServerSideID)
	}
}

func TestMessageAddDeltaAtNewestEndHasNoPrevious(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	recorder := &messageRecorder{}
	if _, err := s.NewMessageTracker(recorder); err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())
	seenAdds := len(recorder.added)

	applyDeltas(s, delta("CHAT_MESSAGE", "add", "m3", `{"clientSideId":"m3","kind":"operator","text":"first","ts_m":300}`))
	applyDeltas(s, delta("CHAT_MESSAGE", "add", "m4", `{"clientSideId":"m4","kind":"operator","text":"second","ts_m":400}`))

	if len(recorder.added) != seenAdds+2 {
		t.Fatalf("adds = %d, want 2", len(recorder.added)-seenAdds)
	}
	for _, event := range recorder.added[seenAdds:] {
		if event.previous != nil {
			t.Fatalf("newest-end add %q reported previous %q, want nil", event.message.ID, event.previous.ID)
		}
	}

	// A message landing between existing ones reports its predecessor.
	applyDeltas(s, delta("CHAT_MESSAGE", "add", "m3b", `{"clientSideId":"m3b","kind":"operator","text":"late","ts_m":350}`))
	event := recorder.added[len(recorder.added)-1]
	if event.previous == nil || event.previous.ID != "m3" {
		t.Fatalf("out-of-order add previous = %+v, want m3", event.previous)
	}
}

func TestAddAndUpdateInOneDeltaList(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	recorder := &messageRecorder{}
	if _, err := s.NewMessageTracker(recorder); err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())
	seenAdds := len(recorder.added)

	applyDeltas(s,
		delta("CHAT_MESSAGE", "add", "m5", `{"clientSideId":"m5","kind":"operator","text":"draft","ts_m":500}`),
		delta("CHAT_MESSAGE", "upd", "m5", `{"clientSideId":"m5","kind":"operator","text":"final","ts_m":500,"edited":true}`),
	)

	if len(recorder.added) != seenAdds+1 {
		t.Fatalf("adds = %d, want 1", len(recorder.added)-seenAdds)
	}
	if len(recorder.changed) != 1 {
		t.Fatalf("changed = %d, want 1", len(recorder.changed))
	}
	old, updated := recorder.changed[0][0], recorder.changed[0][1]
	if old.Text != "draft" || updated.Text != "final" || !updated.IsEdited {
		t.Fatalf("changed %q -> %q", old.Text, updated.Text)
	}
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()

	if _, err := stream.SendMessage("", nil); err != SendMessageErrorEmpty {
		t.Fatalf("empty text: %v", err)
	}
	if _, err := stream.SendMessage("   ", nil); err != SendMessageErrorEmpty {
		t.Fatalf("blank text: %v", err)
	}
}

func TestMessageDeleteDeltaUnknownIDIsNoOp(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	recorder := &messageRecorder{}
	if _, err := s.NewMessageTracker(recorder); err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())
	applyDeltas(s, delta("CHAT_MESSAGE", "del", "never-seen", `"never-seen"`))

	if len(recorder.removed) != 0 {
		t.Fatalf("removed = %v", recorder.removed)
	}
}

func TestMessageDeleteDelta(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	recorder := &messageRecorder{}
	if _, err := s.NewMessageTracker(recorder); err != nil {
		t.Fatal(err)
	}

	applyFull(s, chattingFullUpdate())
	applyDeltas(s, delta("CHAT_MESSAGE", "del", "m2", `"m2"`))

	if len(recorder.removed) != 1 || recorder.removed[0].ID != "m2" {
		t.Fatalf("removed = %v", recorder.removed)
	}
}

func TestEditMessagePreconditions(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	applyFull(s, chattingFullUpdate())

	if err := stream.EditMessage("no-such-id", "new", nil); err != EditMessageErrorNotOwned {
		t.Fatalf("unknown id: %v", err)
	}
	// m2 belongs to the operator.
	if err := stream.EditMessage("m2", "new", nil); err != EditMessageErrorNotOwned {
		t.Fatalf("operator message: %v", err)
	}
	// m1 is an info message.
	if err := stream.EditMessage("m1", "new", nil); err != EditMessageErrorWrongKind {
		t.Fatalf("info message: %v", err)
	}
	if err := stream.EditMessage("m2", "", nil); err != EditMessageErrorEmpty {
		t.Fatalf("empty text: %v", err)
	}
}

func TestReactMessageRequiresCanReact(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	applyFull(s, chattingFullUpdate())

	if err := stream.ReactMessage("no-such-id", ReactionLike, nil); err != ReactionErrorMessageNotFound {
		t.Fatalf("unknown id: %v", err)
	}
	if err := stream.ReactMessage("m2", ReactionLike, nil); err != ReactionErrorNotAllowed {
		t.Fatalf("reaction allowed on a message without canReact: %v", err)
	}
}

func TestRateOperatorValidation(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()

	if err := stream.RateOperatorWith("17", 0, nil); err != RateOperatorErrorWrongRating {
		t.Fatalf("rating 0: %v", err)
	}
	if err := stream.RateOperatorWith("17", 6, nil); err != RateOperatorErrorWrongRating {
		t.Fatalf("rating 6: %v", err)
	}

	done := make(chan error, 1)
	if err := stream.RateOperatorWith("17", 5, func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if err := waitCompletion(t, done); err != nil {
		t.Fatalf("completion: %v", err)
	}
}

func TestOperatorRateDelta(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()

	applyDeltas(s, delta("OPERATOR_RATE", "upd", "17", `{"operatorId":17,"rating":4}`))

	if rating, _ := stream.GetLastOperatorRating("17"); rating != 4 {
		t.Fatalf("rating = %d", rating)
	}
	if rating, _ := stream.GetLastOperatorRating("99"); rating != 0 {
		t.Fatalf("rating for unrated operator = %d", rating)
	}
}

func TestUnreadCounterDeltas(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	applyFull(s, chattingFullUpdate())

	applyDeltas(s, delta("UNREAD_BY_VISITOR", "upd", "chat1", `{"msgCnt":5}`))
	if count, _ := stream.GetUnreadByVisitorMessageCount(); count != 5 {
		t.Fatalf("count = %d", count)
	}

	applyDeltas(s, delta("CHAT_READ_BY_VISITOR", "upd", "chat1", `true`))
	if count, _ := stream.GetUnreadByVisitorMessageCount(); count != 0 {
		t.Fatalf("count after read = %d", count)
	}

	applyDeltas(s, delta("UNREAD_BY_OPERATOR_SINCE_TIMESTAMP", "upd", "chat1", `1700000000.5`))
	ts, _ := stream.GetUnreadByOperatorTimestamp()
	if ts.IsZero() {
		t.Fatal("timestamp not set")
	}
	applyDeltas(s, delta("UNREAD_BY_OPERATOR_SINCE_TIMESTAMP", "upd", "chat1", `null`))
	ts, _ = stream.GetUnreadByOperatorTimestamp()
	if !ts.IsZero() {
		t.Fatalf("timestamp after null = %v", ts)
	}
}

func TestOperatorDeltas(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	applyFull(s, chattingFullUpdate())

	applyDeltas(s, delta("CHAT_OPERATOR", "upd", "chat1", `{"id":21,"fullname":"Bea"}`))
	operator, _ := stream.GetCurrentOperator()
	if operator == nil || operator.ID != "21" {
		t.Fatalf("operator = %+v", operator)
	}

	applyDeltas(s, delta("CHAT_OPERATOR", "upd", "chat1", `null`))
	operator, _ = stream.GetCurrentOperator()
	if operator != nil {
		t.Fatalf("operator after null = %+v", operator)
	}
}

func TestMessageReadDelta(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	recorder := &messageRecorder{}
	if _, err := s.NewMessageTracker(recorder); err != nil {
		t.Fatal(err)
	}
	applyFull(s, chattingFullUpdate())

	applyDeltas(s, delta("CHAT_MESSAGE_READ", "upd", "srv2", `true`))

	if len(recorder.changed) != 1 {
		t.Fatalf("changed notifications = %d", len(recorder.changed))
	}
	if !recorder.changed[0][1].ReadByOperator {
		t.Fatal("read flag not set")
	}
}

func TestSetChatReadDropsCounter(t *testing.T) {
	s := newTestSession(t, okActionHandler())
	stream, _ := s.Stream()
	applyFull(s, chattingFullUpdate())

	if err := stream.SetChatRead(); err != nil {
		t.Fatal(err)
	}
	if count, _ := stream.GetUnreadByVisitorMessageCount(); count != 0 {
		t.Fatalf("count = %d", count)
	}
}

func TestGettersReflectTimeConversion(t *testing.T) {
	// ts 1700000000.5 seconds converts to microsecond precision.
	got := timeFromSeconds(1700000000.5)
	want := time.UnixMicro(1700000000500000)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !timeFromSeconds(0).IsZero() {
		t.Fatal("zero seconds must map to the zero time")
	}
}
