package handler

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
)

// maxBodySize caps decoded request bodies.
const maxBodySize = 1 << 20

// envelope is a JSON response body. Payload keys sit next to success,
// message and code.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, message string, payload envelope) {
	body := envelope{"success": true}
	if message != "" {
		body["message"] = message
	}
	maps.Copy(body, payload)
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, code, message string, extra envelope) {
	body := envelope{"success": false, "message": message}
	if code != "" {
		body["code"] = code
	}
	maps.Copy(body, extra)
	writeJSON(w, status, body)
}

var errInvalidBody = errors.New("invalid request body")

// decode reads a JSON request body into dst. An empty body leaves dst as is.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Wrap(errInvalidBody, err.Error())
}

// queryInt parses an integer query parameter, returning 0 when absent or
// malformed so paging falls back to its defaults.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
