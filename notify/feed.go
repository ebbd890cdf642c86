package notify

import (
	"slices"

	"github.com/jrsteele09/order101-console/api"
)

// DefaultPageSize is the number of notifications fetched per page.
const DefaultPageSize = 20

// Notification is a feed item.
type Notification = api.Notification

// Feed is the locally held notification list, newest first.
// Page is the last page fetched (0-based).
type Feed struct {
	Items    []Notification `json:"items"`
	Unread   int            `json:"unreadCount"`
	Total    int            `json:"totalCount"`
	Page     int            `json:"page"`
	PageSize int            `json:"size"`
	Loading  bool           `json:"loading"`
}

// HasMore reports whether the server holds items the feed has not fetched.
func (f Feed) HasMore() bool {
	return len(f.Items) < f.Total
}

func (f Feed) clone() Feed {
	f.Items = slices.Clone(f.Items)
	return f
}

// replace installs the first page.
func (f *Feed) replace(page *api.NotificationPage) {
	f.Items = slices.Clone(page.Items)
	f.Page = 0
	if page.TotalKnown {
		f.Total = page.TotalCount
	}
	f.Total = max(f.Total, len(f.Items))
}

// appendPage adds a later page at the tail, skipping items already held
// (a live push shifts server offsets by one).
func (f *Feed) appendPage(pageNo int, page *api.NotificationPage) {
	for _, item := range page.Items {
		if !f.contains(item.ID) {
			f.Items = append(f.Items, item)
		}
	}
	f.Page = pageNo
	if page.TotalKnown {
		f.Total = page.TotalCount
	}
	f.Total = max(f.Total, len(f.Items))
}

func (f *Feed) prepend(n Notification) {
	f.Items = slices.Insert(f.Items, 0, n)
	f.Unread++
	f.Total++
}

func (f *Feed) remove(id int64) {
	f.Items = slices.DeleteFunc(f.Items, func(n Notification) bool { return n.ID == id })
	f.Total = max(len(f.Items), f.Total-1)
}

func (f *Feed) clear() {
	f.Items = nil
	f.Unread = 0
	f.Total = 0
	f.Page = 0
}

func (f *Feed) contains(id int64) bool {
	if id == 0 {
		return false
	}
	return slices.ContainsFunc(f.Items, func(n Notification) bool { return n.ID == id })
}
