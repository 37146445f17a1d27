package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// DateLayout is the calendar date format accepted by every API.
const DateLayout = "2006-01-02"

// PathID parses a positive integer route parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, Invalid("invalid %s", name)
	}
	return id, nil
}

// QueryString returns the trimmed query value for key.
func QueryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// QueryInt parses an optional integer, falling back to def when absent.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, Invalid("%s must be an integer", key)
	}
	return v, nil
}

// QueryID parses an optional positive id.
func QueryID(r *http.Request, key string) (*int64, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, Invalid("invalid %s", key)
	}
	return &v, nil
}

// QueryFloat parses an optional float.
func QueryFloat(r *http.Request, key string) (*float64, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, Invalid("%s must be a number", key)
	}
	return &v, nil
}

// QueryBool parses an optional boolean.
func QueryBool(r *http.Request, key string) (*bool, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, Invalid("%s must be a boolean", key)
	}
	return &v, nil
}

// QueryDate parses an optional YYYY-MM-DD date.
func QueryDate(r *http.Request, key string) (*time.Time, error) {
	raw := QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, raw, time.UTC)
	if err != nil {
		return nil, Invalid("%s must be a date (YYYY-MM-DD)", key)
	}
	return &t, nil
}

// RequireDate parses a mandatory YYYY-MM-DD date.
func RequireDate(r *http.Request, key string) (time.Time, error) {
	t, err := QueryDate(r, key)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, Invalid("%s is required", key)
	}
	return *t, nil
}
