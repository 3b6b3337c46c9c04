package chatkit

import (
	"math"

	"chatkit/internal/histstore"
)

// MessageTracker is a sliding window over the chat history. It starts
// empty, grows toward older messages page by page, and forwards live
// updates for messages inside the window to its MessageListener. At
// most one tracker is active per session; creating a new one destroys
// the previous.
//
// Pages are served from memory first, then from the on-disk history
// store, then from the server, oldest edge moving monotonically down.
type MessageTracker struct {
	session  *Session
	stream   *MessageStream
	listener MessageListener

	// Home context only.
	destroyed bool
	inFlight  bool
	haveEdge  bool
	edgeKey   int64
	allLoaded bool
}

// NewMessageTracker creates the session's message tracker, destroying
// any previously created one.
func (s *Session) NewMessageTracker(listener MessageListener) (*MessageTracker, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	if listener == nil {
		return nil, ErrNilListener
	}
	tracker := &MessageTracker{
		session:  s,
		stream:   s.stream,
		listener: listener,
	}
	s.queue.Call(func() {
		if s.tracker != nil {
			s.tracker.destroyed = true
		}
		s.tracker = tracker
	})
	return tracker, nil
}

// GetLastMessages delivers the newest page of the chat, up to limit
// messages in server order. The window's oldest edge moves to the
// oldest delivered message.
func (m *MessageTracker) GetLastMessages(limit int, completion func([]Message)) error {
	return m.requestPage(limit, completion, func() int64 { return math.MaxInt64 })
}

// GetNextMessages delivers the page immediately older than the current
// window. Before any page was requested it behaves like
// GetLastMessages. An empty slice means the history is exhausted.
func (m *MessageTracker) GetNextMessages(limit int, completion func([]Message)) error {
	return m.requestPage(limit, completion, func() int64 {
		if !m.haveEdge {
			return math.MaxInt64
		}
		return m.edgeKey
	})
}

// GetAllMessages delivers every message currently known locally, in
// server order. It does not consult the server.
func (m *MessageTracker) GetAllMessages(completion func([]Message)) error {
	if err := m.session.checkAccess(); err != nil {
		return err
	}
	var err error
	m.session.queue.Call(func() {
		if m.destroyed {
			err = ErrTrackerDestroyed
			return
		}
		if store := m.session.store; store != nil {
			records, listErr := store.ListBefore(math.MaxInt64, 0)
			if listErr != nil {
				m.session.logger.Warn("failed to list stored history", "error", listErr)
			} else {
				m.stream.repo.backfill(messagesFromRecords(records))
			}
		}
		messages := m.stream.repo.all()
		if completion != nil {
			completion(messages)
		}
	})
	return err
}

// ResetTo shrinks the window so that the given message becomes its
// oldest edge. Messages older than it are no longer tracked and will
// be re-delivered by subsequent GetNextMessages calls.
func (m *MessageTracker) ResetTo(message Message) error {
	if err := m.session.checkAccess(); err != nil {
		return err
	}
	var err error
	m.session.queue.Call(func() {
		if m.destroyed {
			err = ErrTrackerDestroyed
			return
		}
		if m.inFlight {
			err = ErrTrackerBusy
			return
		}
		m.haveEdge = true
		m.edgeKey = message.TimeMicros
	})
	return err
}

// Destroy detaches the tracker. Further page requests fail with
// ErrTrackerDestroyed and live updates stop.
func (m *MessageTracker) Destroy() error {
	if err := m.session.checkAccess(); err != nil {
		return err
	}
	m.session.queue.Call(func() {
		m.destroyed = true
		if m.session.tracker == m {
			m.session.tracker = nil
		}
	})
	return nil
}

// requestPage runs the repo, then history store, then server backfill
// chain. While one page request is in flight, further requests are
// dropped without calling their completion.
func (m *MessageTracker) requestPage(limit int, completion func([]Message), edge func() int64) error {
	if err := m.session.checkAccess(); err != nil {
		return err
	}
	if limit <= 0 {
		return nil
	}

	var err error
	m.session.queue.Call(func() {
		if m.destroyed {
			err = ErrTrackerDestroyed
			return
		}
		if m.inFlight {
			return
		}
		m.inFlight = true

		before := edge()
		page := m.stream.repo.olderThan(before, limit)
		if len(page) >= limit || m.allLoaded {
			m.deliverPage(page, completion)
			return
		}

		// The in-memory portion is short. Fetch older messages off the
		// home context, then merge and re-slice the page.
		fetchBefore := before
		if oldest := m.stream.repo.oldestKey(); oldest > 0 && oldest < fetchBefore {
			fetchBefore = oldest
		}
		need := limit - len(page)
		go m.backfillOlder(fetchBefore, need, before, limit, completion)
	})
	return err
}

// deliverPage completes one page request on the home context.
func (m *MessageTracker) deliverPage(page []Message, completion func([]Message)) {
	m.inFlight = false
	if len(page) > 0 {
		m.haveEdge = true
		m.edgeKey = page[0].TimeMicros
	}
	if completion != nil {
		completion(page)
	}
}

// backfillOlder loads up to need messages with order key below
// beforeMicros from the history store and, if that falls short, from
// the server. Runs off the home context; results are posted back.
func (m *MessageTracker) backfillOlder(beforeMicros int64, need int, pageEdge int64, limit int, completion func([]Message)) {
	session := m.session
	var fetched []Message

	if store := session.store; store != nil {
		records, err := store.ListBefore(beforeMicros, need)
		if err != nil {
			session.logger.Warn("failed to read stored history", "error", err)
		} else {
			fetched = messagesFromRecords(records)
		}
	}

	if len(fetched) < need {
		remoteBefore := beforeMicros
		if len(fetched) > 0 {
			remoteBefore = fetched[0].TimeMicros
		}
		remote, exhausted := m.fetchRemoteHistory(remoteBefore)
		fetched = append(remote, fetched...)
		if exhausted {
			session.queue.Post(func() { m.allLoaded = true })
		}
	}

	session.queue.Post(func() {
		if m.destroyed {
			return
		}
		m.stream.repo.backfill(fetched)
		page := m.stream.repo.olderThan(pageEdge, limit)
		m.deliverPage(page, completion)
	})
}

// fetchRemoteHistory pulls one server history page ending before the
// given order key and persists it. The second result reports whether
// the server has no more history.
func (m *MessageTracker) fetchRemoteHistory(beforeMicros int64) ([]Message, bool) {
	session := m.session
	ctx := session.actionCtx
	if ctx.Err() != nil {
		return nil, false
	}

	resp, err := session.transport.HistoryBefore(ctx, beforeMicros)
	if err != nil {
		session.logger.Warn("history request failed", "error", err)
		return nil, false
	}

	messages := make([]Message, 0, len(resp.Data.Messages))
	for i := range resp.Data.Messages {
		msg := messageFromItem(&resp.Data.Messages[i])
		messages = append(messages, msg)
		if store := session.store; store != nil {
			if err := store.UpsertMessage(messageToRecord(msg)); err != nil {
				session.logger.Warn("failed to persist history message", "id", msg.ID, "error", err)
			}
		}
	}
	if store := session.store; store != nil && resp.Data.Revision != "" {
		if err := store.SaveHistoryRevision(resp.Data.Revision); err != nil {
			session.logger.Warn("failed to persist history revision", "error", err)
		}
	}
	return messages, !resp.Data.HasMore
}

// --- live update forwarding, home context only ---

func (m *MessageTracker) liveAdded(msg Message, previous *Message) {
	if m.destroyed || !m.inWindow(msg) {
		return
	}
	m.listener.Added(msg, previous)
}

func (m *MessageTracker) liveChanged(old, new Message) {
	if m.destroyed || !m.inWindow(new) {
		return
	}
	m.listener.Changed(old, new)
}

func (m *MessageTracker) liveRemoved(msg Message) {
	if m.destroyed || !m.inWindow(msg) {
		return
	}
	m.listener.Removed(msg)
}

func (m *MessageTracker) liveRemovedAll() {
	if m.destroyed {
		return
	}
	m.haveEdge = false
	m.edgeKey = 0
	m.listener.RemovedAll()
}

// inWindow reports whether a message falls inside the tracked window.
// Before the first page everything live is in the window.
func (m *MessageTracker) inWindow(msg Message) bool {
	return !m.haveEdge || msg.TimeMicros >= m.edgeKey
}

func messagesFromRecords(records []histstore.DBMessage) []Message {
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, messageFromRecord(record))
	}
	return messages
}
