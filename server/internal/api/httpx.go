package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// writeJSON marshals v as the response body. These DTOs are plain
// structs of strings, numbers, and slices; json.Marshal on them never
// fails in practice, so no error path is threaded back to the client
// mid-write — a failure here would mean a response already partially
// flushed, which Recoverer cannot fix either.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// queryInt reads an int query parameter, reporting whether it was
// present and well-formed.
func queryInt(q url.Values, key string) (int, bool) {
	v := q.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// queryInt64 is queryInt for int64-keyed lookups (entity ids).
func queryInt64(q url.Values, key string) (int64, bool) {
	v := q.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func pageFromQuery(q url.Values) Page {
	limit, limitSet := queryInt(q, "limit")
	offset, offsetSet := queryInt(q, "offset")
	return NewPage(limit, offset, limitSet, offsetSet)
}
