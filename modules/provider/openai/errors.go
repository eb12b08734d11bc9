package openai

import (
	"encoding/json"

	"github.com/flemzord/scout/internal/provider"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// responseError returns nil for a 2xx status. Otherwise it classifies the
// failure, preferring the error code OpenAI puts in the body.
func responseError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Error.Message == "" {
		return provider.StatusError("openai", status, string(body))
	}
	msg := apiErr.Error.Message
	if apiErr.Error.Code == "context_length_exceeded" {
		msg = apiErr.Error.Code + ": " + msg
	}
	return provider.StatusError("openai", status, msg)
}
