package chatkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"chatkit/internal/dispatch"
	"chatkit/internal/histstore"
	"chatkit/internal/transport"
)

// Config configures a Session. Zero values get sane defaults from
// Validate; only BaseURL and Location are required.
type Config struct {
	// BaseURL of the chat backend, e.g. "https://demo.example.com".
	BaseURL string
	// Location is the chat placement requested at bootstrap.
	Location string
	// AppVersion is reported to the backend.
	AppVersion string
	// StorePath is the on-disk history database. Empty disables
	// persistence: history pagination then reaches the server directly
	// and the revision cursor does not survive a restart.
	StorePath string
	// PollTimeout is the server-side long-poll hold.
	PollTimeout time.Duration
	// RetryBackoffMin and RetryBackoffMax bound the exponential backoff
	// between failed polls.
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
	// Logger for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// HTTPClient used for all requests. If nil, a client without a
	// request timeout (the long poll outlives any sane timeout).
	HTTPClient *http.Client
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: BaseURL is required")
	}
	if c.Location == "" {
		return fmt.Errorf("config: Location is required")
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 44 * time.Second
	}
	if c.RetryBackoffMin == 0 {
		c.RetryBackoffMin = 2 * time.Second
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = 32 * time.Second
	}
	if c.RetryBackoffMax < c.RetryBackoffMin {
		return fmt.Errorf("config: RetryBackoffMax below RetryBackoffMin")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Session owns one visitor's connection to the chat backend: the
// synchronization loop, the MessageStream projection and the optional
// on-disk history store.
//
// A session is bound to the goroutine that created it. Every public
// method of the session, its stream and its trackers must be called
// either from that goroutine or from inside a listener callback;
// anything else fails with ErrInvalidThread. A session starts paused:
// call Resume to begin synchronizing.
type Session struct {
	cfg       Config
	logger    *slog.Logger
	transport *transport.Client
	store     *histstore.Store
	queue     *dispatch.Queue
	stream    *MessageStream
	engine    *deltaSync

	creatorGID uint64
	destroyed  atomic.Bool

	// actionCtx covers outgoing actions and history requests; canceled
	// at Destroy so nothing fires for a torn-down session.
	actionCtx    context.Context
	actionCancel context.CancelFunc

	// Poll loop state, guarded by runMu.
	runMu      sync.Mutex
	running    bool
	pollCancel context.CancelFunc
	group      *errgroup.Group

	// Home context only.
	tracker         *MessageTracker
	fatal           bool
	fatalHandler    FatalErrorHandler
	notFatalHandler NotFatalErrorHandler
}

// NewSession builds a paused session bound to the calling goroutine.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := transport.NewClient(transport.Config{
		BaseURL:     cfg.BaseURL,
		Location:    cfg.Location,
		AppVersion:  cfg.AppVersion,
		PollTimeout: cfg.PollTimeout,
		HTTPClient:  cfg.HTTPClient,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	var store *histstore.Store
	if cfg.StorePath != "" {
		store, err = histstore.Open(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		pageID, authToken, err := store.LoadIdentity()
		if err != nil {
			cfg.Logger.Warn("failed to load stored identity", "error", err)
		} else if pageID != "" {
			client.SetIdentity(pageID, authToken)
		}
	}

	actionCtx, actionCancel := context.WithCancel(context.Background())
	session := &Session{
		cfg:          cfg,
		logger:       cfg.Logger,
		transport:    client,
		store:        store,
		queue:        dispatch.NewQueue(),
		creatorGID:   dispatch.CurrentGoroutineID(),
		actionCtx:    actionCtx,
		actionCancel: actionCancel,
	}
	session.stream = newMessageStream(session)
	session.engine = newDeltaSync(session)
	return session, nil
}

// Stream returns the session's MessageStream.
func (s *Session) Stream() (*MessageStream, error) {
	if err := s.checkAccess(); err != nil {
		return nil, err
	}
	return s.stream, nil
}

// Resume starts or restarts the synchronization loop. No-op while
// already running, after a fatal error ended the session, or after
// Destroy.
func (s *Session) Resume() error {
	gid := dispatch.CurrentGoroutineID()
	if gid != s.creatorGID && !s.queue.OnQueue() {
		return ErrInvalidThread
	}
	if s.destroyed.Load() {
		return nil
	}
	var ended bool
	s.queue.Call(func() { ended = s.fatal })
	if ended {
		return nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	pollCtx, pollCancel := context.WithCancel(s.actionCtx)
	group := &errgroup.Group{}
	// A loop stopped by Pause may still be finishing its in-flight
	// apply; the new loop starts only after the old one has exited.
	previous := s.group
	group.Go(func() error {
		if previous != nil {
			_ = previous.Wait()
		}
		return s.engine.run(pollCtx)
	})
	s.running = true
	s.pollCancel = pollCancel
	s.group = group
	return nil
}

// Pause cancels the in-flight poll and stops synchronizing. The
// revision cursor is kept, so Resume picks up where the session left
// off. Local reads and listener registration keep working.
func (s *Session) Pause() error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	s.stopPolling()
	return nil
}

func (s *Session) stopPolling() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.pollCancel()
	s.running = false
	s.pollCancel = nil
}

// Destroy ends the session: polling stops, pending completion
// callbacks are dropped and further calls fail with ErrInvalidSession.
// Idempotent.
func (s *Session) Destroy() error {
	return s.destroy(false)
}

// DestroyAndClearLocalData destroys the session and wipes the on-disk
// history store.
func (s *Session) DestroyAndClearLocalData() error {
	return s.destroy(true)
}

func (s *Session) destroy(clearData bool) error {
	gid := dispatch.CurrentGoroutineID()
	if gid != s.creatorGID && !s.queue.OnQueue() {
		return ErrInvalidThread
	}
	if !s.destroyed.CompareAndSwap(false, true) {
		return nil
	}

	s.stopPolling()
	s.actionCancel()

	s.runMu.Lock()
	group := s.group
	s.runMu.Unlock()

	// Teardown happens off the caller's goroutine: Destroy may run
	// inside a listener on the queue goroutine, and closing the queue
	// from there would deadlock.
	go func() {
		if group != nil {
			if err := group.Wait(); err != nil && err != context.Canceled {
				s.logger.Warn("poll loop ended with error", "error", err)
			}
		}
		s.queue.Close()
		s.transport.CloseIdleConnections()
		if s.store != nil {
			if clearData {
				if err := s.store.DeleteAll(); err != nil {
					s.logger.Warn("failed to clear local data", "error", err)
				}
			}
			if err := s.store.Close(); err != nil {
				s.logger.Warn("failed to close history store", "error", err)
			}
		}
	}()
	return nil
}

// ChangeLocation switches the chat placement. Takes effect on the next
// bootstrap.
func (s *Session) ChangeLocation(location string) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	if location == "" {
		return fmt.Errorf("location is required")
	}
	s.transport.SetLocation(location)
	return nil
}

// SetDeviceToken registers a push notification token with the backend.
func (s *Session) SetDeviceToken(token string) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	s.runAction(nil, nil, func(ctx context.Context) error {
		return s.transport.SetDeviceToken(ctx, token)
	})
	return nil
}

// SetFatalErrorHandler installs the handler for session-ending errors.
func (s *Session) SetFatalErrorHandler(handler FatalErrorHandler) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	s.queue.Call(func() { s.fatalHandler = handler })
	return nil
}

// SetNotFatalErrorHandler installs the handler for transient errors and
// connectivity changes.
func (s *Session) SetNotFatalErrorHandler(handler NotFatalErrorHandler) error {
	if err := s.checkAccess(); err != nil {
		return err
	}
	s.queue.Call(func() { s.notFatalHandler = handler })
	return nil
}

// checkAccess enforces the home-context contract: calls are legal from
// the creator goroutine or from the queue goroutine (listener
// reentrancy), and only while the session is alive.
func (s *Session) checkAccess() error {
	gid := dispatch.CurrentGoroutineID()
	if gid != s.creatorGID && !s.queue.OnQueue() {
		return ErrInvalidThread
	}
	if s.destroyed.Load() {
		return ErrInvalidSession
	}
	return nil
}

// runAction runs one outgoing request off the home context and posts
// the mapped result to the completion on the home context. Completions
// never fire for a destroyed session.
func (s *Session) runAction(completion func(error), mapErr func(error) error, action func(context.Context) error) {
	go func() {
		err := action(s.actionCtx)
		if s.actionCtx.Err() != nil {
			return
		}
		if err != nil && mapErr != nil {
			err = mapErr(err)
		}
		if err != nil && completion == nil {
			s.logger.Warn("action failed", "error", err)
		}
		if completion == nil {
			return
		}
		s.queue.Post(func() { completion(err) })
	}()
}

// --- tracker forwarding, home context only ---

func (s *Session) notifyMessageAdded(msg Message, previous *Message) {
	if t := s.tracker; t != nil {
		t.liveAdded(msg, previous)
	}
}

func (s *Session) notifyMessageChanged(old, new Message) {
	if t := s.tracker; t != nil {
		t.liveChanged(old, new)
	}
}

func (s *Session) notifyMessageRemoved(msg Message) {
	if t := s.tracker; t != nil {
		t.liveRemoved(msg)
	}
}

func (s *Session) notifyMessagesRemovedAll() {
	if t := s.tracker; t != nil {
		t.liveRemovedAll()
	}
}
