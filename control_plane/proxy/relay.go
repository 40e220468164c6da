package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/codehub/controlplane/control_plane/runtime"
)

// hopByHopHeaders are stripped before relaying in either direction, same
// set httputil.ReverseProxy itself strips via Hop-by-hop-aware handling,
// named explicitly here since we also need the list for the response side.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// newReverseProxy builds a one-shot httputil.ReverseProxy targeting a
// workspace container's upstream, rewriting the request path from
// /w/{id}/{path} to /{path}. No third-party reverse-proxy library appears
// anywhere in the retrieval pack, so the ambient stack falls back to the
// standard library here.
func newReverseProxy(upstream *runtime.Upstream, trimPrefix string) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", upstream.Host, upstream.Port)}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		originalDirector(r)
		r.URL.Path = trimPathPrefix(r.URL.Path, trimPrefix)
		for _, h := range hopByHopHeaders {
			r.Header.Del(h)
		}
		r.Host = target.Host
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		for _, h := range hopByHopHeaders {
			resp.Header.Del(h)
		}
		return nil
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy
}

func trimPathPrefix(path, prefix string) string {
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		rest := path[len(prefix):]
		if rest == "" || rest[0] != '/' {
			rest = "/" + rest
		}
		return rest
	}
	return path
}
