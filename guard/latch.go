package guard

import (
	"context"
	"sync"

	"github.com/jrsteele09/order101-console/transport"
)

var _ transport.Navigator = (*RedirectLatch)(nil)

// RedirectLatch records forced redirects raised outside a page request
// (a failed refresh deep in the transport, a rejected notification stream)
// so the next navigation can apply them.
type RedirectLatch struct {
	lock   sync.Mutex
	count  int
	target string
}

func (l *RedirectLatch) Redirect(_ context.Context, target string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.count++
	l.target = target
}

// Take returns and clears the pending redirect.
func (l *RedirectLatch) Take() (string, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.target == "" {
		return "", false
	}
	target := l.target
	l.target = ""
	return target, true
}

// Count is the number of redirects raised so far.
func (l *RedirectLatch) Count() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.count
}
