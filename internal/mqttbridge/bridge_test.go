package mqttbridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/model"
)

func TestTagNameFromTopic(t *testing.T) {
	assert.Equal(t, "temp", tagNameFromTopic("site/commands/boiler-1/temp"))
	assert.Equal(t, "temp", tagNameFromTopic("temp"))
}

func TestReplyTopicFor(t *testing.T) {
	assert.Equal(t, "site/boiler-1/temp", replyTopicFor("site/commands/boiler-1/temp"))
}

func TestNewRejectsUDPProtocol(t *testing.T) {
	_, err := New(Config{Protocol: "udp", Host: "h", Port: 1}, nil, zap.NewNop())
	assert.Error(t, err)
}

// fakeTag is a minimal Tag double recording the last write and returning a
// scripted read result.
type fakeTag struct {
	readResp  model.TagResponse
	readErr   *model.ReadError
	writeErr  *model.WriteError
	lastWrite model.TagValue
	wrote     bool
}

func (f *fakeTag) Read(ctx context.Context) (model.TagResponse, *model.ReadError) {
	return f.readResp, f.readErr
}
func (f *fakeTag) Write(ctx context.Context, value model.TagValue) *model.WriteError {
	f.wrote = true
	f.lastWrite = value
	return f.writeErr
}
func (f *fakeTag) TagName() string { return "temp" }

func TestHandlePingPublishesPong(t *testing.T) {
	b := &Bridge{logger: zap.NewNop(), cfg: Config{Prefix: "site"}}
	tag := &fakeTag{readResp: model.TagResponse{ID: "dev/temp", Value: model.I32(1)}}

	var published []byte
	b.publishFn = func(topic string, payload []byte) error {
		published = payload
		return nil
	}

	b.handlePing(context.Background(), tag, "site/dev/temp")
	assert.Equal(t, "PONG", string(published))
}

func TestHandleReadPublishesJSONResult(t *testing.T) {
	b := &Bridge{logger: zap.NewNop()}
	tag := &fakeTag{readResp: model.TagResponse{ID: "dev/temp", Value: model.I32(42)}}

	var published []byte
	b.publishFn = func(topic string, payload []byte) error {
		published = payload
		return nil
	}

	b.handleRead(context.Background(), tag, "site/dev/temp")

	var result struct {
		ID    string          `json:"id"`
		Value json.RawMessage `json:"value"`
	}
	require.NoError(t, json.Unmarshal(published, &result))
	require.JSONEq(t, `{"I32":42}`, string(result.Value))
	assert.Equal(t, "dev/temp", result.ID)
}

func TestHandleWriteParsesAlwaysAsInt32(t *testing.T) {
	b := &Bridge{logger: zap.NewNop()}
	tag := &fakeTag{}

	var published []byte
	b.publishFn = func(topic string, payload []byte) error {
		published = payload
		return nil
	}

	b.handleWrite(context.Background(), tag, "site/dev/temp", "42")

	require.True(t, tag.wrote)
	assert.False(t, tag.lastWrite.IsFloat())
	assert.Equal(t, int32(42), tag.lastWrite.Int32())
	assert.Equal(t, "null", string(published))
}

func TestHandleWriteRejectsNonIntegerValue(t *testing.T) {
	b := &Bridge{logger: zap.NewNop()}
	tag := &fakeTag{}
	b.publishFn = func(topic string, payload []byte) error { return nil }

	b.handleWrite(context.Background(), tag, "site/dev/temp", "3.5")
	assert.False(t, tag.wrote)
}
