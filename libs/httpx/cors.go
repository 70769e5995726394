package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy defines the CORS headers to emit for matching origins.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsRules struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     map[string]struct{}
	methodsHdr  string
	headersHdr  string
	maxAge      string
	credentials bool
}

func (p CORSPolicy) compile() corsRules {
	rules := corsRules{
		origins:     map[string]struct{}{},
		methods:     map[string]struct{}{},
		credentials: p.AllowCredentials,
	}
	for _, o := range p.AllowedOrigins {
		switch o = strings.ToLower(strings.TrimSpace(o)); o {
		case "":
		case "*":
			rules.anyOrigin = true
		default:
			rules.origins[o] = struct{}{}
		}
	}
	var methods []string
	for _, m := range p.AllowedMethods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			rules.methods[m] = struct{}{}
			methods = append(methods, m)
		}
	}
	var headers []string
	for _, h := range p.AllowedHeaders {
		if h = strings.TrimSpace(h); h != "" {
			headers = append(headers, h)
		}
	}
	rules.methodsHdr = strings.Join(methods, ", ")
	rules.headersHdr = strings.Join(headers, ", ")
	if p.MaxAge > 0 {
		rules.maxAge = strconv.Itoa(int(p.MaxAge.Seconds()))
	}
	return rules
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin. A wildcard
// policy echoes the origin when credentials are allowed, since browsers reject "*" then.
func (c corsRules) allowOrigin(origin string) (string, bool) {
	if _, ok := c.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	if c.anyOrigin {
		if c.credentials {
			return origin, true
		}
		return "*", true
	}
	return "", false
}

func (c corsRules) allowsMethod(m string) bool {
	if len(c.methods) == 0 {
		return true
	}
	_, ok := c.methods[strings.ToUpper(m)]
	return ok
}

// WithCORS answers preflights and decorates cross-origin responses. Preflights from
// unknown origins or for unlisted methods get 403. An empty origin list disables it.
func WithCORS(cfg CORSPolicy) Middleware {
	rules := cfg.compile()
	if !rules.anyOrigin && len(rules.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			headers := w.Header()
			headers.Add("Vary", "Origin")

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			allowed, ok := rules.allowOrigin(origin)
			if preflight && (!ok || !rules.allowsMethod(r.Header.Get("Access-Control-Request-Method"))) {
				http.Error(w, "cors preflight rejected", http.StatusForbidden)
				return
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			headers.Set("Access-Control-Allow-Origin", allowed)
			if rules.credentials {
				headers.Set("Access-Control-Allow-Credentials", "true")
			}
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			headers.Add("Vary", "Access-Control-Request-Method")
			headers.Add("Vary", "Access-Control-Request-Headers")
			if rules.methodsHdr != "" {
				headers.Set("Access-Control-Allow-Methods", rules.methodsHdr)
			}
			if rules.headersHdr != "" {
				headers.Set("Access-Control-Allow-Headers", rules.headersHdr)
			}
			if rules.maxAge != "" {
				headers.Set("Access-Control-Max-Age", rules.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
