package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/darbak/internal/dialogue"
	"github.com/example/darbak/internal/directory"
	"github.com/example/darbak/internal/lifecycle"
	"github.com/example/darbak/internal/session"
	"github.com/example/darbak/internal/storage"
)

// apiError carries an explicit status chosen by a handler. Everything else
// is mapped by sentinel in writeError.
type apiError struct {
	status int
	err    error
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &apiError{status: http.StatusBadRequest, err: err}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var ae *apiError
	switch {
	case errors.As(err, &ae):
		status = ae.status
		msg = ae.err.Error()
	case errors.Is(err, storage.ErrAlreadyPending):
		status = http.StatusConflict
		msg = "an open request with this captain already exists"
	case errors.Is(err, storage.ErrStateConflict):
		status = http.StatusConflict
		msg = "request is no longer in a state that allows this action"
	case errors.Is(err, lifecycle.ErrCaptainUnavailable):
		status = http.StatusConflict
		msg = "captain is not available"
	case errors.Is(err, storage.ErrMatchNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, session.ErrNoSession):
		status = http.StatusNotFound
		msg = "not found"
	case errors.Is(err, dialogue.ErrInvalidInput),
		errors.Is(err, lifecycle.ErrInvalidStars),
		errors.Is(err, lifecycle.ErrWrongRole):
		status = http.StatusBadRequest
		msg = err.Error()
	}

	if status >= 500 {
		s.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
