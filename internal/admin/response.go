package admin

import "net/http"

// responseWithReqID stamps the request id header before the first byte is
// written and records status and response size for the access log.
type responseWithReqID struct {
	http.ResponseWriter
	reqID  string
	status int
	bytes  int
}

func (w *responseWithReqID) WriteHeader(code int) {
	w.status = code
	if w.reqID != "" {
		w.Header().Set("X-Request-Id", w.reqID)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWithReqID) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
		if w.reqID != "" {
			w.Header().Set("X-Request-Id", w.reqID)
		}
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}
