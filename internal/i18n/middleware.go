package i18n

import "net/http"

// Middleware puts a localizer for the server's configured language on every
// request context, so handlers can call T and Td without threading it
// through. The localizer is built once per server, not per request.
func Middleware(lang string) func(http.Handler) http.Handler {
	localizer := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(WithLocalizer(r.Context(), localizer))
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
