package notify_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/order101-console/api"
	"github.com/jrsteele09/order101-console/notify"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeFeedAPI serves pages from memory and records mutations.
type fakeFeedAPI struct {
	lock      sync.Mutex
	unread    int
	unreadErr error
	pages     map[int]*api.NotificationPage
	pageCalls []int
	readAll   int
	deleted   []int64
	cleared   int
}

func (f *fakeFeedAPI) Notifications(_ context.Context, page, _ int) (*api.NotificationPage, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.pageCalls = append(f.pageCalls, page)
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return &api.NotificationPage{TotalKnown: true}, nil
}

func (f *fakeFeedAPI) UnreadCount(context.Context) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.unread, f.unreadErr
}

func (f *fakeFeedAPI) ReadAllNotifications(context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.readAll++
	return nil
}

func (f *fakeFeedAPI) DeleteNotification(_ context.Context, id int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeFeedAPI) ClearNotifications(context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cleared++
	return nil
}

func (f *fakeFeedAPI) calls() []int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]int{}, f.pageCalls...)
}

type fakeCreds struct {
	lock    sync.Mutex
	token   string
	logouts int
}

func (f *fakeCreds) AccessToken(context.Context) string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.token
}

func (f *fakeCreds) ForceLogout(context.Context) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.logouts++
	f.token = ""
}

func (f *fakeCreds) logoutCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.logouts
}

type fakeNavigator struct {
	lock    sync.Mutex
	targets []string
}

func (n *fakeNavigator) Redirect(_ context.Context, path string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.targets = append(n.targets, path)
}

// manualClock records reconnect timers instead of running them.
type manualClock struct {
	lock   sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (m *manualClock) AfterFunc(d time.Duration, fn func()) notify.Timer {
	m.lock.Lock()
	defer m.lock.Unlock()
	t := &manualTimer{clock: m, delay: d, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// armed returns the timers that are neither stopped nor fired.
func (m *manualClock) armed() []*manualTimer {
	m.lock.Lock()
	defer m.lock.Unlock()
	var out []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single armed timer and returns its delay.
func (m *manualClock) fire(t *testing.T) time.Duration {
	t.Helper()
	armed := m.armed()
	require.Len(t, armed, 1)
	m.lock.Lock()
	armed[0].fired = true
	m.lock.Unlock()
	armed[0].fn()
	return armed[0].delay
}

type streamConn struct {
	token       string
	lastEventID string
	accept      string
}

// sseServer is a notification stream backend. Each connection takes the next
// status from statuses (200 once exhausted) and relays frames until dropped.
type sseServer struct {
	*httptest.Server
	lock     sync.Mutex
	statuses []int
	conns    []streamConn
	frames   chan string
	drop     chan struct{}
	done     chan struct{}
}

func newSSEServer(t *testing.T, statuses ...int) *sseServer {
	t.Helper()
	s := &sseServer{
		statuses: statuses,
		frames:   make(chan string, 32),
		drop:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		close(s.done)
		s.Close()
	})
	return s
}

func (s *sseServer) handle(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	s.conns = append(s.conns, streamConn{
		token:       r.URL.Query().Get("token"),
		lastEventID: r.Header.Get("Last-Event-ID"),
		accept:      r.Header.Get("Accept"),
	})
	status := http.StatusOK
	if len(s.statuses) > 0 {
		status, s.statuses = s.statuses[0], s.statuses[1:]
	}
	s.lock.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "event: connected\ndata: ok\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-s.drop:
			return
		case frame := <-s.frames:
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
	}
}

func (s *sseServer) connections() []streamConn {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]streamConn{}, s.conns...)
}

func (s *sseServer) push(id string, notificationID int64) {
	s.frames <- fmt.Sprintf("id: %s\nevent: notification\ndata: {\"notificationId\":%d,\"title\":\"order %d\"}\n\n",
		id, notificationID, notificationID)
}

func page(total int, ids ...int64) *api.NotificationPage {
	p := &api.NotificationPage{TotalCount: total, TotalKnown: true}
	for _, id := range ids {
		p.Items = append(p.Items, api.Notification{ID: id})
	}
	return p
}

func itemIDs(feed notify.Feed) []int64 {
	ids := make([]int64, 0, len(feed.Items))
	for _, n := range feed.Items {
		ids = append(ids, n.ID)
	}
	return ids
}

type channelFixture struct {
	api    *fakeFeedAPI
	creds  *fakeCreds
	nav    *fakeNavigator
	clock  *manualClock
	server *sseServer
	ch     *notify.Channel
}

func setupChannel(t *testing.T, statuses ...int) *channelFixture {
	t.Helper()
	f := &channelFixture{
		api: &fakeFeedAPI{
			unread: 2,
			pages: map[int]*api.NotificationPage{
				0: page(5, 50, 49),
				1: page(5, 48, 47),
				2: page(5, 46),
			},
		},
		creds:  &fakeCreds{token: "tok-1"},
		nav:    &fakeNavigator{},
		clock:  &manualClock{},
		server: newSSEServer(t, statuses...),
	}
	ch, err := notify.NewChannel(f.api, f.creds, f.nav, f.server.URL+"/api/v1/sse/notifications",
		notify.WithPageSize(2),
		notify.WithAfterFunc(f.clock.AfterFunc),
	)
	require.NoError(t, err)
	f.ch = ch
	t.Cleanup(ch.Teardown)
	return f
}

func (f *channelFixture) waitState(t *testing.T, want notify.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.ch.State() == want }, waitFor, tick, "state %s", want)
}

func (f *channelFixture) waitArmed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.clock.armed()) == 1 }, waitFor, tick)
}

func TestNewChannel_Validation(t *testing.T) {
	_, err := notify.NewChannel(nil, &fakeCreds{}, nil, "http://localhost")
	require.Error(t, err)
	_, err = notify.NewChannel(&fakeFeedAPI{}, nil, nil, "http://localhost")
	require.Error(t, err)
	_, err = notify.NewChannel(&fakeFeedAPI{}, &fakeCreds{}, nil, "/relative")
	require.Error(t, err)
}

func TestStart_BootstrapThenOpen(t *testing.T) {
	f := setupChannel(t)
	require.Equal(t, notify.Disconnected, f.ch.State())

	require.NoError(t, f.ch.Start(context.Background()))
	f.waitState(t, notify.Open)

	feed := f.ch.Snapshot()
	require.Equal(t, []int64{50, 49}, itemIDs(feed))
	require.Equal(t, 2, feed.Unread)
	require.Equal(t, 5, feed.Total)
	require.True(t, feed.HasMore())

	conns := f.server.connections()
	require.Len(t, conns, 1)
	require.Equal(t, "tok-1", conns[0].token)
	require.Equal(t, "text/event-stream", conns[0].accept)
	require.Empty(t, conns[0].lastEventID)

	// already running: a second start is a no-op
	require.NoError(t, f.ch.Start(context.Background()))
	require.Len(t, f.server.connections(), 1)
}

func TestStart_BootstrapFailureKeepsStreamClosed(t *testing.T) {
	f := setupChannel(t)
	f.api.unreadErr = errors.New("502 bad gateway")

	require.Error(t, f.ch.Start(context.Background()))
	require.Equal(t, notify.Disconnected, f.ch.State())
	require.Empty(t, f.server.connections())
	require.False(t, f.ch.Snapshot().Loading)
}

func TestStart_WithoutTokenResets(t *testing.T) {
	f := setupChannel(t)
	f.creds.token = ""

	require.NoError(t, f.ch.Start(context.Background()))
	require.Equal(t, notify.Disconnected, f.ch.State())
	require.Empty(t, f.api.calls())
	require.Empty(t, f.ch.Snapshot().Items)
}

func TestLivePush_Deduplicates(t *testing.T) {
	f := setupChannel(t)
	require.NoError(t, f.ch.Start(context.Background()))
	f.waitState(t, notify.Open)

	var (
		lock      sync.Mutex
		delivered []int64
	)
	cancel := f.ch.Subscribe(func(n notify.Notification) {
		lock.Lock()
		defer lock.Unlock()
		delivered = append(delivered, n.ID)
	})
	defer cancel()

	f.server.frames <- ":hb\n\n"
	f.server.push("1733738670000-000001", 51)
	f.server.push("1733738670000-000001", 51)
	f.server.frames <- "id: 1733738670000-000002\nevent: notification\ndata: not-json\n\n"
	f.server.push("1733738670000-000003", 52)

	require.Eventually(t, func() bool { return len(f.ch.Snapshot().Items) == 4 }, waitFor, tick)

	feed := f.ch.Snapshot()
	require.Equal(t, []int64{52, 51, 50, 49}, itemIDs(feed))
	require.Equal(t, 4, feed.Unread, "2 from the snapshot plus one per distinct push")
	require.Equal(t, 7, feed.Total)
	require.Equal(t, "order 52", feed.Items[0].Title)

	lock.Lock()
	require.Equal(t, []int64{51, 52}, delivered)
	lock.Unlock()
}

func TestStreamRejected_ForcesLogout(t *testing.T) {
	f := setupChannel(t, http.StatusUnauthorized)
	require.NoError(t, f.ch.Start(context.Background()))

	require.Eventually(t, func() bool { return f.creds.logoutCount() == 1 }, waitFor, tick)
	require.Equal(t, notify.Disconnected, f.ch.State())
	require.False(t, f.ch.ReconnectPending())
	require.Empty(t, f.clock.armed())

	f.nav.lock.Lock()
	require.Equal(t, []string{"/login"}, f.nav.targets)
	f.nav.lock.Unlock()
	require.Len(t, f.server.connections(), 1)
}

func TestTransientErrors_BackoffAndRecover(t *testing.T) {
	f := setupChannel(t, http.StatusServiceUnavailable, http.StatusBadGateway)
	require.NoError(t, f.ch.Start(context.Background()))

	f.waitArmed(t)
	require.Equal(t, notify.Reconnecting, f.ch.State())
	require.Equal(t, 6*time.Second, f.ch.RetryDelay())

	// the reconnect reads the freshest token
	f.creds.lock.Lock()
	f.creds.token = "tok-2"
	f.creds.lock.Unlock()

	require.Equal(t, 3*time.Second, f.clock.fire(t))
	f.waitArmed(t)
	require.Equal(t, 12*time.Second, f.ch.RetryDelay())

	require.Equal(t, 6*time.Second, f.clock.fire(t))
	f.waitState(t, notify.Open)
	require.Equal(t, notify.DefaultBackoffFloor, f.ch.RetryDelay(), "open resets the backoff")
	require.False(t, f.ch.ReconnectPending())

	conns := f.server.connections()
	require.Len(t, conns, 3)
	require.Equal(t, "tok-2", conns[2].token)
	require.Zero(t, f.creds.logoutCount())
}

func TestReconnect_SendsLastEventID(t *testing.T) {
	f := setupChannel(t)
	require.NoError(t, f.ch.Start(context.Background()))
	f.waitState(t, notify.Open)

	f.server.push("1733738670000-000009", 60)
	require.Eventually(t, func() bool { return len(f.ch.Snapshot().Items) == 3 }, waitFor, tick)

	f.server.drop <- struct{}{}
	f.waitArmed(t)
	f.clock.fire(t)
	f.waitState(t, notify.Open)

	conns := f.server.connections()
	require.Len(t, conns, 2)
	require.Equal(t, "1733738670000-000009", conns[1].lastEventID)

	// a replay of the last event on the new connection is discarded
	f.server.push("1733738670000-000009", 60)
	f.server.push("1733738670000-000010", 61)
	require.Eventually(t, func() bool { return len(f.ch.Snapshot().Items) == 4 }, waitFor, tick)
	require.Equal(t, []int64{61, 60, 50, 49}, itemIDs(f.ch.Snapshot()))
}

func TestTeardown_MidReconnect(t *testing.T) {
	f := setupChannel(t, http.StatusServiceUnavailable)
	require.NoError(t, f.ch.Start(context.Background()))
	f.waitArmed(t)

	stale := f.clock.armed()[0]
	f.ch.Teardown()
	require.True(t, stale.stopped)
	require.False(t, f.ch.ReconnectPending())
	require.Equal(t, notify.Disconnected, f.ch.State())

	// a timer that slipped past Stop does nothing
	stale.fn()
	require.Equal(t, notify.Disconnected, f.ch.State())
	require.Len(t, f.server.connections(), 1)

	// idempotent
	f.ch.Teardown()
	f.ch.Reset()
	require.Empty(t, f.ch.Snapshot().Items)
}

func TestLoadMore(t *testing.T) {
	f := setupChannel(t)
	ctx := context.Background()
	require.NoError(t, f.ch.Start(ctx))

	require.NoError(t, f.ch.LoadMore(ctx))
	require.Equal(t, []int64{50, 49, 48, 47}, itemIDs(f.ch.Snapshot()))
	require.Equal(t, 1, f.ch.Snapshot().Page)

	require.NoError(t, f.ch.LoadMore(ctx))
	feed := f.ch.Snapshot()
	require.Equal(t, []int64{50, 49, 48, 47, 46}, itemIDs(feed))
	require.False(t, feed.HasMore())

	callsBefore := f.api.calls()
	require.NoError(t, f.ch.LoadMore(ctx))
	require.Equal(t, callsBefore, f.api.calls(), "no fetch once every item is held")
	require.Equal(t, feed, f.ch.Snapshot())
}

func TestMutations(t *testing.T) {
	f := setupChannel(t)
	ctx := context.Background()
	require.NoError(t, f.ch.Start(ctx))

	t.Run("mark all read keeps items", func(t *testing.T) {
		before := f.ch.Snapshot()
		require.NoError(t, f.ch.MarkAllRead(ctx))
		after := f.ch.Snapshot()
		require.Zero(t, after.Unread)
		require.Equal(t, before.Items, after.Items)
		require.Equal(t, before.Total, after.Total)
	})

	t.Run("delete one", func(t *testing.T) {
		require.NoError(t, f.ch.Delete(ctx, 49))
		feed := f.ch.Snapshot()
		require.Equal(t, []int64{50}, itemIDs(feed))
		require.Equal(t, 4, feed.Total)
		require.Equal(t, []int64{49}, f.api.deleted)
	})

	t.Run("clear all", func(t *testing.T) {
		require.NoError(t, f.ch.ClearAll(ctx))
		feed := f.ch.Snapshot()
		require.Empty(t, feed.Items)
		require.Zero(t, feed.Unread)
		require.Zero(t, feed.Total)
		require.Zero(t, feed.Page)
		require.Equal(t, 1, f.api.cleared)
	})
}
