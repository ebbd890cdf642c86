package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// LOGIN
	s.RegisterRouteHandler("GET "+RouteLogin, ChainMiddleware(s.LoginPageHandler(), s.HTMLMiddleWare(s.RequireNavigation())...))
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginSubmissionHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// Pages (role namespaces are enforced by the guard)
	for _, page := range []string{RouteRoot, RouteMyPage, RouteHQ, RouteStore, RouteSystem} {
		s.RegisterRouteHandler("GET "+page, ChainMiddleware(s.PageHandler(), s.HTMLMiddleWare(s.RequireNavigation())...))
	}

	// Console API
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteNotifications, ChainMiddleware(s.NotificationsHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteNotificationsMore, ChainMiddleware(s.LoadMoreHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("POST "+RouteNotificationsReadAll, ChainMiddleware(s.ReadAllHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("GET "+RouteNotificationsStream, ChainMiddleware(s.NotificationStreamHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("DELETE "+RouteNotification, ChainMiddleware(s.DeleteNotificationHandler(), s.APIMiddleware(s.RequireSession())...))
	s.RegisterRouteHandler("DELETE "+RouteNotifications, ChainMiddleware(s.ClearNotificationsHandler(), s.APIMiddleware(s.RequireSession())...))

	// Backend passthrough through the authenticated transport
	s.RegisterRouteHandler(RouteBackendProxy, ChainMiddleware(s.proxy.ServeHTTP, s.APIMiddleware(s.RequireSession())...))

	// CORS preflight
	s.RegisterRouteHandler("OPTIONS "+RouteConsole, ChainMiddleware(noContent, s.APIMiddleware()...))
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
