// Package oneshot implements the CLI single-read mode: resolve one tag by
// name, retry a bounded number of times, print the result, and exit.
package oneshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/device"
	"modbus-mqtt-gateway/internal/model"
)

// Tag is the subset of *device.Device one-shot mode needs.
type Tag interface {
	Read(ctx context.Context) (model.TagResponse, *model.ReadError)
	TagName() string
}

var _ Tag = (*device.Device)(nil)

// Run finds the first tag named tagName among devices and reads it up to
// retries times total, returning the value's string form on the first
// success. It returns an error only when every attempt fails or no device
// has a matching tag name; callers print "Error" and still exit 0, per the
// command-line contract this preserves.
func Run(ctx context.Context, devices []Tag, tagName string, retries int, logger *zap.Logger) (string, error) {
	var tag Tag
	for _, d := range devices {
		if d.TagName() == tagName {
			tag = d
			break
		}
	}
	if tag == nil {
		return "", fmt.Errorf("oneshot: no tag named %q", tagName)
	}

	attempts := retries
	var lastErr *model.ReadError
	for i := 0; i < attempts; i++ {
		readCtx, cancel := context.WithTimeout(ctx, device.OperationTimeout)
		resp, readErr := tag.Read(readCtx)
		cancel()

		if readErr == nil {
			return resp.Value.String(), nil
		}
		lastErr = readErr
		logger.Warn("one-shot read attempt failed",
			zap.String("tag", tagName),
			zap.Int("attempt", i+1),
			zap.Int("of", attempts),
			zap.Error(readErr))
	}

	return "", fmt.Errorf("oneshot: tag %q: %w", tagName, lastErr)
}
