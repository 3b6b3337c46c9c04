package chatkit

import (
	"context"
	"errors"
	"time"

	"chatkit/internal/transport"
	"chatkit/internal/wire"
)

// deltaSync drives the server synchronization loop: one bootstrap
// request when no revision cursor exists, then long polls carrying the
// cursor. Responses are applied on the home context; the cursor only
// advances after a response is fully applied.
type deltaSync struct {
	session  *Session
	revision wire.Revision

	// Loop goroutine only.
	connected bool
}

func newDeltaSync(session *Session) *deltaSync {
	d := &deltaSync{session: session, connected: true}
	if store := session.store; store != nil {
		revision, err := store.LoadRevision()
		if err != nil {
			session.logger.Warn("failed to load stored revision", "error", err)
		}
		// The cursor is scoped to the page identity the server assigned.
		// Without a stored identity the server would reject the poll, so
		// bootstrap from scratch instead.
		pageID, _, err := store.LoadIdentity()
		if err != nil {
			session.logger.Warn("failed to load stored identity", "error", err)
		} else if pageID != "" {
			d.revision = wire.Revision(revision)
		}
	}
	return d
}

// run polls until the context is canceled or a fatal error arrives.
// Transient failures back off exponentially between the configured
// bounds and never lose the revision cursor.
func (d *deltaSync) run(ctx context.Context) error {
	cfg := d.session.cfg
	backoff := cfg.RetryBackoffMin

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := d.request(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fatal := d.classifyFatal(err); fatal != nil {
				d.notifyFatal(ctx, fatal)
				return nil
			}
			d.notifyNotFatal(ctx, err)
			d.session.transport.CloseIdleConnections()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > cfg.RetryBackoffMax {
				backoff = cfg.RetryBackoffMax
			}
			continue
		}

		backoff = cfg.RetryBackoffMin
		d.notifyConnected(ctx)
		d.apply(ctx, resp)
	}
}

func (d *deltaSync) request(ctx context.Context) (*wire.DeltaResponse, error) {
	if d.revision == "" {
		return d.session.transport.Bootstrap(ctx)
	}
	return d.session.transport.PollDeltas(ctx, d.revision)
}

// apply projects one poll response onto the stream, then advances and
// persists the cursor.
func (d *deltaSync) apply(ctx context.Context, resp *wire.DeltaResponse) {
	if ctx.Err() != nil {
		return
	}

	// A full update carrying a history revision different from the
	// stored one means history mutated while this client was offline.
	var staleHistory, newHistory string
	if fu := resp.FullUpdate; fu != nil && fu.HistoryRevision != "" {
		newHistory = fu.HistoryRevision
		if store := d.session.store; store != nil {
			stored, err := store.LoadHistoryRevision()
			if err == nil && stored != "" && stored != fu.HistoryRevision {
				staleHistory = stored
			}
		}
	}

	d.session.queue.Call(func() {
		if resp.FullUpdate != nil {
			d.session.stream.applyFullUpdate(resp.FullUpdate)
		}
		if len(resp.DeltaList) > 0 {
			d.session.stream.applyDeltaList(resp.DeltaList)
		}
	})

	if staleHistory != "" {
		d.syncHistorySince(ctx, staleHistory)
	} else if newHistory != "" {
		if store := d.session.store; store != nil {
			if err := store.SaveHistoryRevision(newHistory); err != nil {
				d.session.logger.Warn("failed to persist history revision", "error", err)
			}
		}
	}
	if resp.Revision != "" {
		d.revision = resp.Revision
		if store := d.session.store; store != nil {
			if err := store.SaveRevision(string(resp.Revision)); err != nil {
				d.session.logger.Warn("failed to persist revision", "error", err)
			}
		}
	}
}

// syncHistorySince catches up on messages edited or added while the
// client was offline. Failures are logged and left for the next
// bootstrap; the stale stored revision will trigger another attempt.
func (d *deltaSync) syncHistorySince(ctx context.Context, since string) {
	resp, err := d.session.transport.HistorySince(ctx, since)
	if err != nil {
		d.session.logger.Warn("offline history catch-up failed", "since", since, "error", err)
		return
	}

	messages := make([]Message, 0, len(resp.Data.Messages))
	for i := range resp.Data.Messages {
		messages = append(messages, messageFromItem(&resp.Data.Messages[i]))
	}
	d.session.queue.Call(func() {
		for _, msg := range messages {
			d.session.stream.applyMessageValue(msg)
		}
	})
	if store := d.session.store; store != nil && resp.Data.Revision != "" {
		if err := store.SaveHistoryRevision(resp.Data.Revision); err != nil {
			d.session.logger.Warn("failed to persist history revision", "error", err)
		}
	}
}

// classifyFatal maps a poll failure to a FatalError, or nil when the
// failure is worth retrying. Network failures and the server's
// not-ready code retry; every other server-reported code ends the
// session.
func (d *deltaSync) classifyFatal(err error) *FatalError {
	var serverErr *transport.ServerError
	if !errors.As(err, &serverErr) {
		return nil
	}
	if serverErr.Code == "server-not-ready" {
		return nil
	}
	return fatalErrorFromCode(serverErr.Code)
}

func (d *deltaSync) notifyFatal(ctx context.Context, fatal *FatalError) {
	d.session.logger.Error("session ended by server", "code", fatal.Code, "type", fatal.Type)
	if ctx.Err() != nil {
		return
	}
	d.session.queue.Post(func() {
		session := d.session
		if session.fatal {
			return
		}
		session.fatal = true
		if handler := session.fatalHandler; handler != nil {
			handler.OnFatalError(fatal)
		}
	})
}

func (d *deltaSync) notifyNotFatal(ctx context.Context, cause error) {
	notFatal := &NotFatalError{Type: NotFatalErrorNoNetwork, Err: cause}
	var serverErr *transport.ServerError
	if errors.As(cause, &serverErr) {
		notFatal.Type = NotFatalErrorServerUnavailable
	}
	d.session.logger.Warn("poll failed, will retry", "type", notFatal.Type, "error", cause)

	wasConnected := d.connected
	d.connected = false
	if ctx.Err() != nil {
		return
	}
	d.session.queue.Post(func() {
		if handler := d.session.notFatalHandler; handler != nil {
			handler.OnNotFatalError(notFatal)
			if wasConnected {
				handler.ConnectionStateChanged(false)
			}
		}
	})
}

func (d *deltaSync) notifyConnected(ctx context.Context) {
	if d.connected {
		return
	}
	d.connected = true
	if ctx.Err() != nil {
		return
	}
	d.session.queue.Post(func() {
		if handler := d.session.notFatalHandler; handler != nil {
			handler.ConnectionStateChanged(true)
		}
	})
}
