// Package chat keeps the decrypted message list of a conversation in sync with
// the remote row store and the realtime service.
//
// A Client belongs to one signed-in user. Opening a conversation returns a
// Session that loads the newest page, pages backwards on demand, sends with
// optimistic display and applies realtime events until it is closed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"e2echat/cache"
	"e2echat/crypto"
	"e2echat/models"
)

// DefaultPageSize is the number of messages fetched per page.
const DefaultPageSize = 50

// Options configures a Client.
type Options struct {
	UserID  string
	Backend Backend
	// Cache may be shared across clients to restore conversations instantly.
	// Entries are keyed by user, so clients never read each other's state. A
	// nil Cache gets a private one.
	Cache    *cache.Cache
	PageSize int
	Logger   *zerolog.Logger
}

// Client is the sync engine of one user.
type Client struct {
	userID   string
	backend  Backend
	cache    *cache.Cache
	pageSize int
	log      zerolog.Logger

	mu        sync.Mutex
	timelines map[string]*timeline
	active    map[string]*Session
}

// NewClient validates options and returns a Client.
func NewClient(options Options) (*Client, error) {
	if strings.TrimSpace(options.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	if options.Backend == nil {
		return nil, errors.New("backend is required")
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	c := options.Cache
	if c == nil {
		c = cache.New()
	}
	log := zerolog.Nop()
	if options.Logger != nil {
		log = options.Logger.With().Str("component", "chat").Str("user_id", options.UserID).Logger()
	}

	return &Client{
		userID:    options.UserID,
		backend:   options.Backend,
		cache:     c,
		pageSize:  pageSize,
		log:       log,
		timelines: make(map[string]*timeline),
		active:    make(map[string]*Session),
	}, nil
}

// UserID returns the signed-in user.
func (c *Client) UserID() string {
	return c.userID
}

// Key returns the conversation key for id, deriving it on first use.
func (c *Client) Key(id ConversationID) (crypto.Key, error) {
	tl, err := c.timeline(id)
	if err != nil {
		return crypto.Key{}, err
	}
	return tl.key, nil
}

// Active returns the open session for id, or nil.
func (c *Client) Active(id ConversationID) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[id.String()]
}

// Open subscribes to the conversation and loads its newest page. A cached state
// is shown while the page loads. Opening a conversation that already has an
// active session closes the previous session first. Open returns
// ErrSessionClosed when the session is closed before it finished subscribing.
func (c *Client) Open(ctx context.Context, id ConversationID, options SessionOptions) (*Session, error) {
	tl, err := c.timeline(id)
	if err != nil {
		return nil, err
	}

	s := &Session{
		client: c,
		id:     id,
		tl:     tl,
		log:    c.log.With().Str("conversation", id.String()).Logger(),
	}

	c.mu.Lock()
	previous := c.active[id.String()]
	c.active[id.String()] = s
	c.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	if options.OnChange != nil {
		tl.listen(s, options.OnChange)
	}
	generation := tl.beginLoad()
	s.subscribe()
	if s.isClosed() {
		tl.abortLoad(generation)
		tl.unlisten(s)
		return nil, ErrSessionClosed
	}
	if err := s.fetchLatest(ctx, generation); err != nil {
		s.Close()
		return nil, err
	}
	s.log.Debug().Int("messages", len(tl.snapshot().Messages)).Msg("Conversation opened")
	return s, nil
}

// ForwardMessage sends text as a new message to every target. Targets are
// independent: a failure for one target does not stop the others. The messages
// that were sent are returned together with the joined errors.
func (c *Client) ForwardMessage(ctx context.Context, text string, targets []ConversationID) ([]models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	var (
		sent []models.Message
		errs []error
	)
	for _, target := range targets {
		tl, err := c.timeline(target)
		if err != nil {
			errs = append(errs, fmt.Errorf("forward to %s: %w", target, err))
			continue
		}
		message, err := c.send(ctx, tl, outgoing{body: text})
		if err != nil {
			errs = append(errs, fmt.Errorf("forward to %s: %w", target, err))
			continue
		}
		sent = append(sent, message)
	}
	return sent, errors.Join(errs...)
}

// Close closes every active session.
func (c *Client) Close() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// timeline returns the live state for id. Key derivation runs outside the lock.
func (c *Client) timeline(id ConversationID) (*timeline, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	k := id.String()

	c.mu.Lock()
	tl, ok := c.timelines[k]
	c.mu.Unlock()
	if ok {
		return tl, nil
	}

	key, err := id.deriveKey(c.userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tl, ok := c.timelines[k]; ok {
		return tl, nil
	}
	tl = newTimeline(c.userID, id, key, c.cache)
	c.timelines[k] = tl
	return tl, nil
}

func (c *Client) release(s *Session) {
	c.mu.Lock()
	if c.active[s.id.String()] == s {
		delete(c.active, s.id.String())
	}
	c.mu.Unlock()
}
