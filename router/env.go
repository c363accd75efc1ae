package router

import (
	"net/http"
	"strings"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

// EnvFromRequest builds a request environment the CGI way: PATH_INFO,
// REQUEST_METHOD, QUERY_STRING, SERVER_PROTOCOL, REMOTE_ADDR and an
// HTTP_* entry per header (upper case, '-' replaced by '_').
func EnvFromRequest(req *http.Request) handler.Env {
	env := make(handler.Env, 8+len(req.Header))
	for k, vs := range req.Header {
		env["HTTP_"+strings.ToUpper(strings.ReplaceAll(k, "-", "_"))] = strings.Join(vs, ", ")
	}
	env[ir.EnvPath] = req.URL.Path
	env[ir.EnvMethod] = req.Method
	env["QUERY_STRING"] = req.URL.RawQuery
	env["SERVER_PROTOCOL"] = req.Proto
	env["REMOTE_ADDR"] = req.RemoteAddr
	if req.Host != "" {
		env["HTTP_HOST"] = req.Host
	}
	return env
}

// HTTPHandler serves HTTP requests by dispatching them through d. Unmatched
// requests get a 404 and destination errors a 500.
func HTTPHandler(d handler.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		resp, matched, err := d.ServeEnv(EnvFromRequest(req))
		switch {
		case err != nil:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		case !matched:
			http.NotFound(w, req)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp.Body))
	})
}
