package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/order101-console/api"
	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Event names on the notification stream
const (
	EventNotification = "notification"
	EventConnected    = "connected"
	EventOpen         = "open"
	EventError        = "error"
)

// State of the push connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// FeedAPI is the REST side of the notification feed.
type FeedAPI interface {
	Notifications(ctx context.Context, page, size int) (*api.NotificationPage, error)
	UnreadCount(ctx context.Context) (int, error)
	ReadAllNotifications(ctx context.Context) error
	DeleteNotification(ctx context.Context, id int64) error
	ClearNotifications(ctx context.Context) error
}

// Credentials is the credential store as the channel sees it.
type Credentials interface {
	AccessToken(ctx context.Context) string
	ForceLogout(ctx context.Context)
}

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests swap in a manual clock.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Channel keeps the notification feed in sync: a REST snapshot at start, then
// live pushes over a server-sent event stream that reconnects with backoff.
type Channel struct {
	api        FeedAPI
	creds      Credentials
	navigator  transport.Navigator
	streamURL  string
	httpClient *http.Client
	loginPath  string
	afterFunc  AfterFunc

	lock        sync.Mutex
	state       State
	feed        Feed
	feedEpoch   uint64 // bumped when the feed is emptied so in-flight pages are dropped
	lastEventID string
	generation  uint64 // bumped per connection and on teardown so stale callbacks are dropped
	cancelConn  context.CancelFunc
	timer       Timer
	backoff     *Backoff
	subscribers map[int]func(Notification)
	nextSubID   int
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithPageSize sets how many notifications a page holds.
func WithPageSize(size int) ChannelOption {
	return func(c *Channel) {
		if size > 0 {
			c.feed.PageSize = size
		}
	}
}

// WithBackoff sets the reconnect floor and ceiling.
func WithBackoff(floor, ceiling time.Duration) ChannelOption {
	return func(c *Channel) {
		c.backoff = NewBackoff(floor, ceiling)
	}
}

// WithAfterFunc replaces the reconnect timer factory (primarily for testing)
func WithAfterFunc(afterFunc AfterFunc) ChannelOption {
	return func(c *Channel) {
		c.afterFunc = afterFunc
	}
}

// WithHTTPClient sets the client used for the stream. It must not carry a
// request timeout, the stream is long lived.
func WithHTTPClient(client *http.Client) ChannelOption {
	return func(c *Channel) {
		c.httpClient = client
	}
}

// WithLoginPath overrides the redirect target used when the stream is rejected.
func WithLoginPath(path string) ChannelOption {
	return func(c *Channel) {
		c.loginPath = path
	}
}

// NewChannel creates a disconnected channel for streamURL
// (e.g., "https://order101.link/api/v1/sse/notifications").
func NewChannel(feedAPI FeedAPI, creds Credentials, navigator transport.Navigator, streamURL string, options ...ChannelOption) (*Channel, error) {
	if feedAPI == nil {
		return nil, errors.New("[NewChannel] feed api is required")
	}
	if creds == nil {
		return nil, errors.New("[NewChannel] credentials are required")
	}
	if u, err := url.Parse(streamURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[NewChannel] invalid stream url %q", streamURL)
	}

	c := &Channel{
		api:         feedAPI,
		creds:       creds,
		navigator:   navigator,
		streamURL:   streamURL,
		httpClient:  &http.Client{},
		loginPath:   transport.DefaultLoginPath,
		afterFunc:   realAfterFunc,
		feed:        Feed{PageSize: DefaultPageSize},
		backoff:     NewBackoff(DefaultBackoffFloor, DefaultBackoffCeiling),
		subscribers: map[int]func(Notification){},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Start bootstraps the feed and opens the stream. The unread count and the
// first page are fetched concurrently; the stream is opened only when both
// succeed. Without a token the channel is reset instead.
func (c *Channel) Start(ctx context.Context) error {
	if c.creds.AccessToken(ctx) == "" {
		c.Reset()
		return nil
	}

	c.lock.Lock()
	if c.state != Disconnected {
		c.lock.Unlock()
		return nil
	}
	generation := c.generation
	size := c.feed.PageSize
	c.feed.Loading = true
	c.lock.Unlock()

	var (
		unread int
		first  *api.NotificationPage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		unread, err = c.api.UnreadCount(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		first, err = c.api.Notifications(gctx, 0, size)
		return err
	})
	err := g.Wait()

	c.lock.Lock()
	defer c.lock.Unlock()
	c.feed.Loading = false
	if err != nil {
		return errors.Wrap(err, "[Channel.Start] bootstrap")
	}
	if c.generation != generation || c.state != Disconnected {
		// torn down or started elsewhere while bootstrapping
		return nil
	}

	c.feed.Unread = unread
	c.feed.replace(first)
	c.feedEpoch++
	c.connectLocked()
	return nil
}

// connectLocked opens a new stream connection. Caller holds the lock.
func (c *Channel) connectLocked() {
	c.generation++
	generation := c.generation
	connCtx, cancel := context.WithCancel(context.Background())
	c.cancelConn = cancel
	c.state = Connecting
	lastEventID := c.lastEventID

	go c.stream(connCtx, generation, lastEventID)
}

// stream runs one connection until it fails or is cancelled.
func (c *Channel) stream(ctx context.Context, generation uint64, lastEventID string) {
	accessToken := c.creds.AccessToken(ctx)
	if accessToken == "" {
		c.onError(generation, true, conerrors.ErrNotLoggedIn)
		return
	}

	req, err := c.streamRequest(ctx, accessToken, lastEventID)
	if err != nil {
		c.onError(generation, false, err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.onError(generation, false, err)
		}
		return
	}
	defer resp.Body.Close()

	if rejected, err := classifyStreamResponse(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.onError(generation, rejected, err)
		return
	}
	c.onOpen(generation)

	dec := newDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if ctx.Err() == nil {
				c.onError(generation, false, errors.Wrap(err, "stream closed"))
			}
			return
		}

		switch ev.Name {
		case EventNotification:
			c.onEvent(generation, ev)
		case EventError:
			c.onError(generation, false, errors.Errorf("server error event: %s", ev.Data))
			return
		case EventConnected, EventOpen:
			log.Debug().Str("event", ev.Name).Msg("notification stream handshake")
		}
	}
}

func (c *Channel) streamRequest(ctx context.Context, accessToken, lastEventID string) (*http.Request, error) {
	u, err := url.Parse(c.streamURL)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("token", accessToken)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	return req, nil
}

// classifyStreamResponse returns an error when resp cannot carry events.
// rejected is true when the server refused the connection outright.
func classifyStreamResponse(resp *http.Response) (rejected bool, err error) {
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, errors.Errorf("stream returned %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return true, conerrors.Wrapf(conerrors.ErrStreamRejected, "status %d", resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode > 299:
		return true, conerrors.Wrapf(conerrors.ErrStreamRejected, "status %d", resp.StatusCode)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		return true, conerrors.Wrapf(conerrors.ErrStreamRejected, "content type %q", mediaType)
	}
	return false, nil
}

func (c *Channel) onOpen(generation uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if generation != c.generation {
		return
	}
	c.state = Open
	c.backoff.Reset()
	c.stopTimerLocked()
	log.Info().Msg("notification stream open")
}

func (c *Channel) onEvent(generation uint64, ev Event) {
	var n Notification
	if err := json.Unmarshal([]byte(ev.Data), &n); err != nil {
		log.Err(err).Str("eventId", ev.ID).Msg("dropping undecodable notification")
		return
	}

	c.lock.Lock()
	if generation != c.generation {
		c.lock.Unlock()
		return
	}
	if ev.ID != "" && ev.ID == c.lastEventID {
		c.lock.Unlock()
		log.Debug().Str("eventId", ev.ID).Msg("duplicate notification discarded")
		return
	}
	c.lastEventID = ev.ID
	c.feed.prepend(n)
	subscribers := make([]func(Notification), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.lock.Unlock()

	for _, fn := range subscribers {
		fn(n)
	}
}

// onError handles a failed connection. A rejected stream means the token is
// no good: purge and go to login. Anything else reconnects after the backoff.
func (c *Channel) onError(generation uint64, rejected bool, cause error) {
	c.lock.Lock()
	if generation != c.generation {
		c.lock.Unlock()
		return
	}
	c.closeConnLocked()

	if rejected {
		c.stopTimerLocked()
		c.generation++
		c.state = Disconnected
		c.lock.Unlock()

		log.Warn().Err(cause).Msg("notification stream rejected, forcing logout")
		ctx := context.Background()
		c.creds.ForceLogout(ctx)
		if c.navigator != nil {
			c.navigator.Redirect(ctx, c.loginPath)
		}
		return
	}

	if c.timer != nil {
		c.lock.Unlock()
		return
	}
	delay := c.backoff.Next()
	c.state = Reconnecting
	c.timer = c.afterFunc(delay, func() { c.reconnect(generation) })
	c.lock.Unlock()

	log.Warn().Err(cause).Dur("delay", delay).Msg("notification stream lost, reconnecting")
}

func (c *Channel) reconnect(generation uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if generation != c.generation || c.timer == nil {
		return
	}
	c.timer = nil
	c.connectLocked()
}

func (c *Channel) closeConnLocked() {
	if c.cancelConn != nil {
		c.cancelConn()
		c.cancelConn = nil
	}
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Teardown closes the connection, cancels a pending reconnect and forgets
// the last event id. It is safe in any state.
func (c *Channel) Teardown() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.teardownLocked()
}

func (c *Channel) teardownLocked() {
	c.closeConnLocked()
	c.stopTimerLocked()
	c.generation++
	c.lastEventID = ""
	c.state = Disconnected
	c.backoff.Reset()
}

// Reset tears down and empties the feed.
func (c *Channel) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.teardownLocked()
	c.feed.clear()
	c.feed.Loading = false
	c.feedEpoch++
}

// LoadMore appends the next page. It does nothing while a page is loading
// or when every item is already held.
func (c *Channel) LoadMore(ctx context.Context) error {
	c.lock.Lock()
	if c.feed.Loading || !c.feed.HasMore() {
		c.lock.Unlock()
		return nil
	}
	c.feed.Loading = true
	next, size, epoch := c.feed.Page+1, c.feed.PageSize, c.feedEpoch
	c.lock.Unlock()

	page, err := c.api.Notifications(ctx, next, size)

	c.lock.Lock()
	defer c.lock.Unlock()
	c.feed.Loading = false
	if err != nil {
		return errors.Wrap(err, "[LoadMore]")
	}
	if epoch != c.feedEpoch {
		return nil
	}
	c.feed.appendPage(next, page)
	return nil
}

// MarkAllRead zeroes the unread counter; feed items are left untouched.
func (c *Channel) MarkAllRead(ctx context.Context) error {
	if err := c.api.ReadAllNotifications(ctx); err != nil {
		return errors.Wrap(err, "[MarkAllRead]")
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.feed.Unread = 0
	return nil
}

// Delete removes one notification by id.
func (c *Channel) Delete(ctx context.Context, id int64) error {
	if err := c.api.DeleteNotification(ctx, id); err != nil {
		return errors.Wrap(err, "[Delete]")
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.feed.remove(id)
	return nil
}

// ClearAll empties the feed and resets paging.
func (c *Channel) ClearAll(ctx context.Context) error {
	if err := c.api.ClearNotifications(ctx); err != nil {
		return errors.Wrap(err, "[ClearAll]")
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.feed.clear()
	c.feedEpoch++
	return nil
}

// Snapshot returns a copy of the feed.
func (c *Channel) Snapshot() Feed {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.feed.clone()
}

func (c *Channel) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// RetryDelay is the wait the next reconnect would use.
func (c *Channel) RetryDelay() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.backoff.Delay()
}

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Channel) ReconnectPending() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.timer != nil
}

// Subscribe registers fn for every live notification. Call the returned
// function to unsubscribe.
func (c *Channel) Subscribe(fn func(Notification)) (cancel func()) {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		delete(c.subscribers, id)
	}
}
