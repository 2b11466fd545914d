package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/database"
	"github.com/fulldump/qmapdb/service"
	"github.com/fulldump/qmapdb/store"
)

var ErrUnavailable = errors.New("temporary unavailable")

type PrettyError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (p PrettyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"error": struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		}{
			p.Message,
			p.Description,
		},
	})
}

func (p PrettyError) MarshalTo(w io.Writer) error {
	return json.NewEncoder(w).Encode(p)
}

// InterceptorUnavailable answers 503 while the database is opening or
// closing. It writes the response itself so it works wherever it sits in
// the interceptor chain.
func InterceptorUnavailable(db *database.Database) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {

			status := db.GetStatus()
			if status == database.StatusOperating {
				next(ctx)
				return
			}

			err := fmt.Errorf("%w: %s", ErrUnavailable, status)
			w := box.GetResponse(ctx)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message":     err.Error(),
					"description": "database is not operating",
				},
			})
		}
	}
}

var errorStatuses = []struct {
	err         error
	status      int
	description string
}{
	{ErrUnavailable, http.StatusServiceUnavailable, "database is not operating"},
	{service.ErrorStoreNotFound, http.StatusNotFound, "store is not open"},
	{database.ErrInvalidHandle, http.StatusNotFound, "store is not open"},
	{database.ErrAlreadyOpen, http.StatusConflict, "store is already open"},
	{database.ErrCorrupt, http.StatusConflict, "stored data does not match the declaration"},
	{database.ErrReadOnly, http.StatusForbidden, "store is read only"},
	{database.ErrNotAppendable, http.StatusBadRequest, "store does not support append"},
	{store.ErrAssoc, http.StatusBadRequest, "invalid association"},
	{service.ErrorBadValue, http.StatusBadRequest, "bad value"},
	{codec.ErrInvalidValue, http.StatusBadRequest, "value does not fit the kind"},
	{codec.ErrUnknownKind, http.StatusBadRequest, "unknown kind"},
	{database.ErrOpen, http.StatusBadRequest, "store can not be opened"},
}

func PrettyErrorInterceptor(next box.H) box.H {
	return func(ctx context.Context) {

		next(ctx)

		err := box.GetError(ctx)
		if err == nil {
			return
		}
		w := box.GetResponse(ctx)

		if err == ErrUnauthorized {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message":     err.Error(),
					"description": "user is not authenticated",
				},
			})
			return
		}

		if err == box.ErrResourceNotFound {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message":     err.Error(),
					"description": fmt.Sprintf("resource '%s' not found", box.GetRequest(ctx).URL.String()),
				},
			})
			return
		}

		if err == box.ErrMethodNotAllowed {
			w.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message":     err.Error(),
					"description": fmt.Sprintf("method '%s' not allowed", box.GetRequest(ctx).Method),
				},
			})
			return
		}

		if _, ok := err.(*json.SyntaxError); ok {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message":     err.Error(),
					"description": "Malformed JSON",
				},
			})
			return
		}

		for _, e := range errorStatuses {
			if !errors.Is(err, e.err) {
				continue
			}
			w.WriteHeader(e.status)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message":     err.Error(),
					"description": e.description,
				},
			})
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message":     err.Error(),
				"description": "Unexpected error",
			},
		})

	}
}
