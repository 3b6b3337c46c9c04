package chatkit

import (
	"sort"

	"github.com/c-pro/geche"
)

// messageRepository is the ordered in-memory message store. Messages
// are kept ascending by server order key; a keyed index serves lookups
// by client-side ID. The repository is only ever touched on the
// session's home context, so it needs no locking of its own.
type messageRepository struct {
	ordered []Message
	index   geche.Geche[string, Message]
}

func newMessageRepository() *messageRepository {
	return &messageRepository{
		index: geche.NewMapCache[string, Message](),
	}
}

func (r *messageRepository) get(id string) (Message, bool) {
	msg, err := r.index.Get(id)
	if err != nil {
		return Message{}, false
	}
	return msg, true
}

func (r *messageRepository) size() int {
	return len(r.ordered)
}

// all returns a copy of every materialized message in server order.
func (r *messageRepository) all() []Message {
	out := make([]Message, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// newest returns up to limit messages from the newest end, in server
// order.
func (r *messageRepository) newest(limit int) []Message {
	if limit > len(r.ordered) {
		limit = len(r.ordered)
	}
	out := make([]Message, limit)
	copy(out, r.ordered[len(r.ordered)-limit:])
	return out
}

// olderThan returns up to limit messages strictly older than the given
// order key, in server order (the limit slices from the newest end of
// the older range).
func (r *messageRepository) olderThan(key int64, limit int) []Message {
	end := sort.Search(len(r.ordered), func(i int) bool {
		return r.ordered[i].TimeMicros >= key
	})
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, end-start)
	copy(out, r.ordered[start:end])
	return out
}

func (r *messageRepository) oldestKey() int64 {
	if len(r.ordered) == 0 {
		return 0
	}
	return r.ordered[0].TimeMicros
}

// positionOf finds the index of the message with the given ID, or -1.
func (r *messageRepository) positionOf(id string) int {
	for i := range r.ordered {
		if r.ordered[i].ID == id {
			return i
		}
	}
	return -1
}

// insertPosition returns where a message with this order key belongs.
// Equal keys insert after existing ones, keeping arrival order stable.
func (r *messageRepository) insertPosition(key int64) int {
	return sort.Search(len(r.ordered), func(i int) bool {
		return r.ordered[i].TimeMicros > key
	})
}

// upsert inserts a message or replaces the one sharing its ID.
// For a replacement the old value is returned. For an insert, previous
// is nil when the message lands at the newest end; an out-of-order
// insert reports the message now immediately preceding it.
func (r *messageRepository) upsert(msg Message) (old *Message, previous *Message, replaced bool) {
	if existing, ok := r.get(msg.ID); ok {
		pos := r.positionOf(msg.ID)
		oldCopy := existing
		if existing.TimeMicros == msg.TimeMicros {
			r.ordered[pos] = msg
		} else {
			// The server ack can carry a different order key than the
			// local echo; reposition without reporting a remove/add.
			r.ordered = append(r.ordered[:pos], r.ordered[pos+1:]...)
			newPos := r.insertPosition(msg.TimeMicros)
			r.ordered = append(r.ordered, Message{})
			copy(r.ordered[newPos+1:], r.ordered[newPos:])
			r.ordered[newPos] = msg
		}
		r.index.Set(msg.ID, msg)
		return &oldCopy, nil, true
	}

	pos := r.insertPosition(msg.TimeMicros)
	r.ordered = append(r.ordered, Message{})
	copy(r.ordered[pos+1:], r.ordered[pos:])
	r.ordered[pos] = msg
	r.index.Set(msg.ID, msg)

	if pos == len(r.ordered)-1 || pos == 0 {
		return nil, nil, false
	}
	prevCopy := r.ordered[pos-1]
	return nil, &prevCopy, false
}

// remove deletes a message by ID. Unknown IDs are a no-op.
func (r *messageRepository) remove(id string) (Message, bool) {
	pos := r.positionOf(id)
	if pos < 0 {
		return Message{}, false
	}
	msg := r.ordered[pos]
	r.ordered = append(r.ordered[:pos], r.ordered[pos+1:]...)
	_ = r.index.Del(id)
	return msg, true
}

func (r *messageRepository) removeAll() {
	r.ordered = nil
	r.index = geche.NewMapCache[string, Message]()
}

// backfill materializes older history at the old end of the store
// without producing change notifications. Messages already present are
// skipped.
func (r *messageRepository) backfill(messages []Message) []Message {
	var inserted []Message
	for _, msg := range messages {
		if _, ok := r.get(msg.ID); ok {
			continue
		}
		pos := r.insertPosition(msg.TimeMicros)
		r.ordered = append(r.ordered, Message{})
		copy(r.ordered[pos+1:], r.ordered[pos:])
		r.ordered[pos] = msg
		r.index.Set(msg.ID, msg)
		inserted = append(inserted, msg)
	}
	return inserted
}
