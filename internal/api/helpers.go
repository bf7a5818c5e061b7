package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/disambiguate"
	"github.com/samcharles93/statemap/internal/family"
	"github.com/samcharles93/statemap/internal/state"
)

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest("decode body: %v", err)
	}
	return out, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, ErrorBody{Type: "invalid_request_error", Message: msg})
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, ErrorBody{Type: "not_found_error", Message: msg})
}

func writeError(c *echo.Context, status int, body ErrorBody) error {
	return c.JSON(status, map[string]any{"error": body})
}

// errorCodes names the sentinels clients can act on.
var errorCodes = []struct {
	err  error
	code string
}{
	{convert.ErrAmbiguousSourceKey, "ambiguous_source_key"},
	{convert.ErrIncompleteSourceGroup, "incomplete_source_group"},
	{convert.ErrInvalidSpec, "invalid_spec"},
	{state.ErrDuplicateKey, "duplicate_key"},
	{state.ErrKeyNotFound, "key_not_found"},
	{family.ErrUnknownFamily, "unknown_family"},
	{family.ErrUnsupportedModel, "unsupported_model"},
	{family.ErrInvalidRecipe, "invalid_recipe"},
	{disambiguate.ErrInvalidRule, "invalid_rule"},
}

// writeFailure maps a recipe or planning error onto an HTTP response.
func writeFailure(c *echo.Context, err error) error {
	body := ErrorBody{Type: "conversion_error", Message: err.Error()}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			body.Code = ec.code
			break
		}
	}
	var cerr *convert.Error
	if errors.As(err, &cerr) {
		body.Phase = strings.ToLower(cerr.Phase.String())
		body.Keys = cerr.Keys
	}

	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, family.ErrUnknownFamily),
		errors.Is(err, family.ErrUnsupportedModel),
		errors.Is(err, family.ErrInvalidRecipe),
		errors.Is(err, convert.ErrInvalidSpec),
		errors.Is(err, disambiguate.ErrInvalidRule):
		status = http.StatusBadRequest
		body.Type = "invalid_request_error"
	}
	return writeError(c, status, body)
}
