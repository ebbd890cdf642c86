package config

import "time"

type NotificationConfig interface {
	GetStreamURL() string
	GetNotificationPageSize() int
	GetBackoffFloor() time.Duration
	GetBackoffCeiling() time.Duration
}

type Notifications struct {
	values FileValues
}

var _ NotificationConfig = Notifications{}

// GetStreamURL defaults to the SSE endpoint on the API backend.
func (n Notifications) GetStreamURL() string {
	return n.values.get("STREAM_URL", Client(n).GetAPIBaseURL()+"/api/v1/sse/notifications")
}

func (n Notifications) GetNotificationPageSize() int {
	size := n.values.getInt("NOTIFICATION_PAGE_SIZE", 20)
	if size <= 0 {
		return 20
	}
	return size
}

func (n Notifications) GetBackoffFloor() time.Duration {
	return n.values.getDuration("BACKOFF_FLOOR", 3*time.Second)
}

func (n Notifications) GetBackoffCeiling() time.Duration {
	ceiling := n.values.getDuration("BACKOFF_CEILING", 30*time.Second)
	if floor := n.GetBackoffFloor(); ceiling < floor {
		return floor
	}
	return ceiling
}
