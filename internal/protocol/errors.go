package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProtocol = errors.New("protocol: adapter protocol failure")
	ErrTimeout  = errors.New("protocol: timeout")
	ErrNotJSON  = errors.New("protocol: payload is not a json object")
)

// RequireSuccess turns an unsuccessful response into an ErrProtocol failure.
func RequireSuccess(resp Message) error {
	if resp.Success {
		return nil
	}
	detail := strings.TrimSpace(resp.Message)
	if detail == "" {
		detail = string(resp.Raw)
	}
	return fmt.Errorf("%w: %s failed: %s", ErrProtocol, resp.Command, detail)
}
