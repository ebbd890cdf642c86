package api

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/internal/utils"
	"github.com/pkg/errors"
)

// Notification endpoints
const (
	PathNotifications       = "/api/v1/notifications"
	PathNotificationsUnread = "/api/v1/notifications/unread-count"
	PathNotificationsRead   = "/api/v1/notifications/read-all"
)

// Notification is a single feed item as the backend serialises it, both in
// REST pages and in the data line of a pushed "notification" event.
type Notification struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Type            string    `json:"type"`
	CreatedAt       LocalTime `json:"createdAt"`
	ReadAt          LocalTime `json:"readAt"`
	UserID          int64     `json:"userId,omitempty"`
	StoreID         int64     `json:"storeId,omitempty"`
	StoreOrderID    int64     `json:"storeOrderId,omitempty"`
	OrderNo         string    `json:"orderNo,omitempty"`
	PurchaseOrderID int64     `json:"purchaseOrderId,omitempty"`
	PONo            string    `json:"poNo,omitempty"`
	OrderType       string    `json:"orderType,omitempty"`
	SupplierID      int64     `json:"supplierId,omitempty"`
	SmartOrderID    int64     `json:"smartOrderId,omitempty"`
	OrderStatus     string    `json:"orderStatus,omitempty"`
}

type wireNotification struct {
	NotificationID  FlexInt64  `json:"notificationId"`
	ID              FlexInt64  `json:"id"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	Type            string     `json:"type"`
	CreatedAt       LocalTime  `json:"createdAt"`
	ReadAt          LocalTime  `json:"readAt"`
	UserID          FlexInt64  `json:"userId"`
	StoreID         FlexInt64  `json:"storeId"`
	StoreOrderID    FlexInt64  `json:"storeOrderId"`
	OrderNo         FlexString `json:"orderNo"`
	PurchaseOrderID FlexInt64  `json:"purchaseOrderId"`
	PONo            FlexString `json:"poNo"`
	OrderType       string     `json:"orderType"`
	SupplierID      FlexInt64  `json:"supplierId"`
	SmartOrderID    FlexInt64  `json:"smartOrderId"`
	OrderStatus     string     `json:"orderStatus"`
}

// UnmarshalJSON accepts either notificationId or id as the item key.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id := w.NotificationID
	if id == 0 {
		id = w.ID
	}
	*n = Notification{
		ID:              int64(id),
		Title:           w.Title,
		Body:            w.Body,
		Type:            w.Type,
		CreatedAt:       w.CreatedAt,
		ReadAt:          w.ReadAt,
		UserID:          int64(w.UserID),
		StoreID:         int64(w.StoreID),
		StoreOrderID:    int64(w.StoreOrderID),
		OrderNo:         string(w.OrderNo),
		PurchaseOrderID: int64(w.PurchaseOrderID),
		PONo:            string(w.PONo),
		OrderType:       w.OrderType,
		SupplierID:      int64(w.SupplierID),
		SmartOrderID:    int64(w.SmartOrderID),
		OrderStatus:     w.OrderStatus,
	}
	return nil
}

// Unread reports whether the item has not been read yet.
func (n Notification) Unread() bool {
	return n.ReadAt.IsZero()
}

// NotificationPage is one page of the feed. Page is 0-based as the backend reports it.
type NotificationPage struct {
	Items      []Notification
	Page       int
	TotalCount int
	// TotalKnown is false when the backend omitted every total field.
	TotalKnown bool
}

type wirePage struct {
	Items         json.RawMessage `json:"items"`
	Content       json.RawMessage `json:"content"`
	Page          *int            `json:"page"`
	Number        *int            `json:"number"`
	TotalCount    *int            `json:"totalCount"`
	TotalElements *int            `json:"totalElements"`
}

// UnmarshalJSON normalises the paged envelope. The list lives in items or
// content, and items may itself be a nested page object carrying content.
func (p *NotificationPage) UnmarshalJSON(data []byte) error {
	var w wirePage
	if err := json.Unmarshal(data, &w); err != nil {
		return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "notification page: %v", err)
	}

	list := w.Content
	if isPresent(w.Items) {
		if w.Items[0] == '{' {
			// Spring Page nested under items
			var nested NotificationPage
			if err := json.Unmarshal(w.Items, &nested); err != nil {
				return err
			}
			*p = nested
			return nil
		}
		list = w.Items
	}

	var items []Notification
	if isPresent(list) {
		if err := json.Unmarshal(list, &items); err != nil {
			return conerrors.Wrapf(conerrors.ErrUnexpectedEnvelope, "notification items: %v", err)
		}
	}

	*p = NotificationPage{Items: items}
	p.Page = utils.Value(cmp.Or(w.Page, w.Number))
	switch {
	case w.TotalCount != nil:
		p.TotalCount, p.TotalKnown = *w.TotalCount, true
	case w.TotalElements != nil:
		p.TotalCount, p.TotalKnown = *w.TotalElements, true
	}
	return nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

type unreadCount struct {
	Count FlexInt64 `json:"count"`
}

// Notifications fetches one page of the feed, newest first.
func (c *Client) Notifications(ctx context.Context, page, size int) (*NotificationPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	var out NotificationPage
	if err := c.Do(ctx, http.MethodGet, PathNotifications, query, nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Notifications]")
	}
	return &out, nil
}

// UnreadCount returns items[0].count of the unread-count envelope.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var env Envelope[unreadCount]
	if err := c.Do(ctx, http.MethodGet, PathNotificationsUnread, nil, nil, &env); err != nil {
		return 0, errors.Wrap(err, "[UnreadCount]")
	}
	first, err := env.First()
	if err != nil {
		return 0, errors.Wrap(err, "[UnreadCount]")
	}
	return int(first.Count), nil
}

// ReadAllNotifications marks every notification read.
func (c *Client) ReadAllNotifications(ctx context.Context) error {
	return errors.Wrap(c.Do(ctx, http.MethodPost, PathNotificationsRead, nil, nil, nil), "[ReadAllNotifications]")
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	path := PathNotifications + "/" + strconv.FormatInt(id, 10)
	return errors.Wrap(c.Do(ctx, http.MethodDelete, path, nil, nil, nil), "[DeleteNotification]")
}

// ClearNotifications removes every notification.
func (c *Client) ClearNotifications(ctx context.Context) error {
	return errors.Wrap(c.Do(ctx, http.MethodDelete, PathNotifications, nil, nil, nil), "[ClearNotifications]")
}
