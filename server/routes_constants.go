package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteHealth = "/healthz"

	// Auth Routes - Login & Logout
	RouteLogin  = "/login"
	RouteLogout = "/logout"

	// Page Routes
	RouteRoot   = "/{$}"
	RouteMyPage = "/mypage"
	RouteHQ     = "/hq/"
	RouteStore  = "/store/"
	RouteSystem = "/system/"

	// Console API Routes
	RouteConsole              = "/console/"
	RouteSession              = "/console/session"
	RouteNotifications        = "/console/notifications"
	RouteNotificationsMore    = "/console/notifications/more"
	RouteNotificationsReadAll = "/console/notifications/read-all"
	RouteNotificationsStream  = "/console/notifications/stream"
	RouteNotification         = "/console/notifications/{id}"
	RouteBackendProxy         = "/api/"
)
