package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	summary, body string
	err           error
	called        bool
}

func (f *fakeNotifier) Notify(ctx context.Context, summary, body string) error {
	f.called = true
	f.summary, f.body = summary, body
	return f.err
}

func TestNotifyStartupFailureBuildsMessage(t *testing.T) {
	f := &fakeNotifier{}
	NotifyStartupFailure(context.Background(), f, "VST2", "/home/user/.vst/Foo.so", errors.New("failed to load Foo.dll"))

	require.True(t, f.called)
	assert.Contains(t, f.summary, "VST2")
	assert.Contains(t, f.body, "failed to load Foo.dll")
	assert.Contains(t, f.body, "/home/user/.vst/Foo.so")
}

func TestNotifyStartupFailureNilNotifierIsNoOp(t *testing.T) {
	assert.NotPanics(t, func() {
		NotifyStartupFailure(context.Background(), nil, "VST2", "/path", errors.New("boom"))
	})
}

func TestNotifyStartupFailureSwallowsDeliveryError(t *testing.T) {
	f := &fakeNotifier{err: errors.New("dbus unreachable")}
	assert.NotPanics(t, func() {
		NotifyStartupFailure(context.Background(), f, "VST2", "/path", errors.New("boom"))
	})
	assert.True(t, f.called)
}
