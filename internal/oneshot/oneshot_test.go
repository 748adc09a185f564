package oneshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/model"
)

type fakeTag struct {
	name    string
	results []model.TagValue
	errs    []*model.ReadError
	calls   int
}

func (f *fakeTag) TagName() string { return f.name }

func (f *fakeTag) Read(ctx context.Context) (model.TagResponse, *model.ReadError) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return model.TagResponse{}, f.errs[i]
	}
	return model.TagResponse{ID: "dev/" + f.name, Value: f.results[i]}, nil
}

func TestRunReturnsFirstSuccess(t *testing.T) {
	tag := &fakeTag{name: "temp", results: []model.TagValue{model.I32(42)}}
	out, err := Run(context.Background(), []Tag{tag}, "temp", 1, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	tag := &fakeTag{
		name:    "temp",
		results: []model.TagValue{{}, {}, model.F32(23.2)},
		errs: []*model.ReadError{
			model.NewReadError("timeout", nil),
			model.NewReadError("timeout", nil),
			nil,
		},
	}
	out, err := Run(context.Background(), []Tag{tag}, "temp", 3, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "23.2", out)
	assert.Equal(t, 3, tag.calls)
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	tag := &fakeTag{
		name: "temp",
		errs: []*model.ReadError{
			model.NewReadError("timeout", nil),
			model.NewReadError("timeout", nil),
		},
	}
	_, err := Run(context.Background(), []Tag{tag}, "temp", 2, zap.NewNop())
	assert.Error(t, err)
	assert.Equal(t, 2, tag.calls)
}

func TestRunErrorsOnUnknownTag(t *testing.T) {
	_, err := Run(context.Background(), []Tag{&fakeTag{name: "temp"}}, "missing", 1, zap.NewNop())
	assert.Error(t, err)
}
