package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access to the payment endpoints.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to call the API. Empty, or a
	// single "*", allows every origin.
	AllowOrigins []string

	// AllowMethods lists permitted methods. Defaults to
	// "GET, POST, PUT, DELETE, OPTIONS".
	AllowMethods []string

	// AllowHeaders lists permitted request headers. When empty, preflight
	// responses echo Access-Control-Request-Headers back.
	AllowHeaders []string

	// ExposeHeaders lists response headers readable by browser scripts.
	ExposeHeaders []string

	// AllowCredentials permits cookies and Authorization headers. The spec
	// forbids combining it with the wildcard origin, so enabling it forces
	// specific-origin echo.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0".
	MaxAge int
}

// cors holds the precomputed header values so per-request work is lookups
// and writes only.
type cors struct {
	allowAll      bool
	origins       map[string]string // lowercased origin -> configured spelling
	methods       string
	headers       string
	exposeHeaders string
	maxAge        string
	credentials   bool
}

// CORS returns a middleware handling both preflight and actual cross-origin
// requests. Origin matching is case-insensitive; the configured spelling is
// echoed back. Vary headers are always set on origin-dependent responses so
// shared caches never serve one origin's response to another.
func CORS(cfg CORSConfig) Middleware {
	c := &cors{
		allowAll:      len(cfg.AllowOrigins) == 0,
		origins:       make(map[string]string, len(cfg.AllowOrigins)),
		methods:       strings.Join(cfg.AllowMethods, ", "),
		headers:       strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
		credentials:   cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			c.allowAll = true
			break
		}
		c.origins[strings.ToLower(o)] = o
	}
	if c.credentials {
		// Wildcard with credentials is forbidden; echo specific origins.
		c.allowAll = false
	}
	if c.methods == "" {
		c.methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	switch {
	case cfg.MaxAge > 0:
		c.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		c.maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin request, but responses still vary by Origin.
				if !c.allowAll {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				c.preflight(w, r, origin)
				return
			}

			c.actual(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}

func (c *cors) preflight(w http.ResponseWriter, r *http.Request, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	allowOrigin := c.resolve(origin)
	if allowOrigin == "" {
		// Denied origins get a bare 204 with no CORS headers.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Methods", c.methods)
	switch {
	case c.headers != "":
		h.Set("Access-Control-Allow-Headers", c.headers)
	case r.Header.Get("Access-Control-Request-Headers") != "":
		h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
	}
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *cors) actual(w http.ResponseWriter, origin string) {
	h := w.Header()
	if !c.allowAll {
		h.Add("Vary", "Origin")
	}
	allowOrigin := c.resolve(origin)
	if allowOrigin == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", c.exposeHeaders)
	}
}

// resolve returns the Access-Control-Allow-Origin value, or "" for a denied
// origin.
func (c *cors) resolve(origin string) string {
	if c.allowAll {
		return "*"
	}
	return c.origins[strings.ToLower(origin)]
}
