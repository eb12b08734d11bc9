package anthropic

import (
	"encoding/json"
	"errors"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/flemzord/scout/internal/provider"
)

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapError classifies an SDK error. API errors go through
// provider.StatusError with the body's "type: message" as text, so an
// overflowing research conversation surfaces as ErrContextLength.
func mapError(err error) error {
	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return provider.TransportError("anthropic", err)
	}

	msg := apiErr.Error()
	var body apiErrorBody
	if json.Unmarshal([]byte(apiErr.RawJSON()), &body) == nil && body.Error.Message != "" {
		msg = body.Error.Type + ": " + body.Error.Message
	}
	return provider.StatusError("anthropic", apiErr.StatusCode, msg)
}
