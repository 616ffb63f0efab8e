package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/msolberg/weather-station/internal/history"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ReadingStore is the read side of the reading history.
type ReadingStore interface {
	Latest(ctx context.Context, location string, limit int) ([]history.Entry, error)
}

type readingsAPI struct {
	store  ReadingStore
	out    responder
	logger *slog.Logger
}

type readingsPage struct {
	Station  string          `json:"station,omitempty"`
	Location *string         `json:"location"`
	Limit    int             `json:"limit"`
	Items    []history.Entry `json:"items"`
}

func (a *readingsAPI) handleReadings(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		a.out.error(w, http.StatusServiceUnavailable, "reading history is disabled")
		return
	}

	location, limit, err := parseReadingsQuery(r)
	if err != nil {
		a.out.error(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.store.Latest(r.Context(), location, limit)
	if err != nil {
		a.logger.Error("failed to load readings", "error", err)
		a.out.error(w, http.StatusInternalServerError, "failed to load readings")
		return
	}

	page := readingsPage{Station: a.out.station, Limit: limit, Items: items}
	if location != "" {
		page.Location = &location
	}
	if page.Items == nil {
		page.Items = []history.Entry{}
	}
	a.out.json(w, http.StatusOK, page)
}

func parseReadingsQuery(r *http.Request) (location string, limit int, err error) {
	q := r.URL.Query()

	location = q.Get("location")
	switch location {
	case "", "indoor", "outdoor":
	default:
		return "", 0, errors.New("invalid 'location' (expected indoor or outdoor)")
	}

	limit = defaultLimit
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return "", 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return "", 0, errors.New("'limit' must be > 0")
		}
		if n > maxLimit {
			return "", 0, errors.New("'limit' must be <= 1000")
		}
		limit = n
	}

	return location, limit, nil
}

func registerReadings(mux *http.ServeMux, store ReadingStore, out responder) {
	a := &readingsAPI{store: store, out: out, logger: out.logger}
	mux.HandleFunc("GET /api/v1/readings", a.handleReadings)
}
