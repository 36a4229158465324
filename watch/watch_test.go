package watch

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/buildlink/log"
	"github.com/pithecene-io/buildlink/types"
)

type fakeHandle struct {
	mu      sync.Mutex
	stopped int
	err     error
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	return h.err
}

type fakeWatcher struct {
	handles []*fakeHandle
	inputs  []Inputs
	err     error
}

func (w *fakeWatcher) Watch(inputs Inputs, _ func()) (Handle, error) {
	if w.err != nil {
		return nil, w.err
	}
	h := &fakeHandle{}
	w.handles = append(w.handles, h)
	w.inputs = append(w.inputs, inputs)
	return h, nil
}

func fakeRegistry(w *fakeWatcher) *Registry {
	r := NewRegistry()
	r.Register(CapabilityNative, func(*log.Logger) (Watcher, error) { return w, nil })
	return r
}

func TestNewService_BelowMinimumCapability(t *testing.T) {
	_, err := NewService(CapabilityNone, Options{Registry: fakeRegistry(&fakeWatcher{})})
	require.Error(t, err)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
	assert.Contains(t, err.Error(), "native")
}

func TestNewService_NoVariantRegistered(t *testing.T) {
	_, err := NewService(CapabilityNative, Options{Registry: NewRegistry()})
	require.Error(t, err)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
	assert.Contains(t, err.Error(), "no file watcher implementation")
}

func TestNewService_FactoryFailure(t *testing.T) {
	boom := errors.New("inotify exhausted")
	r := NewRegistry()
	r.Register(CapabilityNative, func(*log.Logger) (Watcher, error) { return nil, boom })

	_, err := NewService(CapabilityNative, Options{Registry: r})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestDefaultRegistry_HasNativeVariant(t *testing.T) {
	assert.Equal(t, []Capability{CapabilityNative}, DefaultRegistry.Tiers())
	svc, err := NewService(CapabilityNative, Options{})
	require.NoError(t, err)
	assert.IsType(t, &NotifyWatcher{}, svc.watcher)
}

func TestCapability_String(t *testing.T) {
	assert.Equal(t, "none", CapabilityNone.String())
	assert.Equal(t, "native", CapabilityNative.String())
	assert.Equal(t, "capability(7)", Capability(7).String())
}

func TestService_WatchValidation(t *testing.T) {
	svc, err := NewService(CapabilityNative, Options{Registry: fakeRegistry(&fakeWatcher{})})
	require.NoError(t, err)

	_, err = svc.Watch(Inputs{Directories: []string{"."}}, nil)
	assert.Equal(t, types.KindInvalidRequest, types.KindOf(err))

	_, err = svc.Watch(Inputs{}, func() {})
	assert.Equal(t, types.KindInvalidRequest, types.KindOf(err))
}

func TestService_DelegatesAndTracks(t *testing.T) {
	fw := &fakeWatcher{}
	svc, err := NewService(CapabilityNative, Options{Registry: fakeRegistry(fw)})
	require.NoError(t, err)

	h1, err := svc.Watch(Inputs{Directories: []string{"a"}}, func() {})
	require.NoError(t, err)
	_, err = svc.Watch(Inputs{Files: []string{"b"}}, func() {})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Active())
	assert.Equal(t, []string{"a"}, fw.inputs[0].Directories)

	require.NoError(t, h1.Stop())
	require.NoError(t, h1.Stop())
	assert.Equal(t, 1, fw.handles[0].stopped, "handle stop must be idempotent")
	assert.Equal(t, 1, svc.Active())

	require.NoError(t, svc.Stop())
	assert.Equal(t, 0, svc.Active())
	assert.Equal(t, 1, fw.handles[1].stopped)

	_, err = svc.Watch(Inputs{Directories: []string{"a"}}, func() {})
	assert.Equal(t, types.KindInvalidRequest, types.KindOf(err))
}

func TestService_StopReportsFirstError(t *testing.T) {
	fw := &fakeWatcher{}
	svc, err := NewService(CapabilityNative, Options{Registry: fakeRegistry(fw)})
	require.NoError(t, err)
	_, err = svc.Watch(Inputs{Directories: []string{"a"}}, func() {})
	require.NoError(t, err)
	fw.handles[0].err = errors.New("close failed")

	assert.EqualError(t, svc.Stop(), "close failed")
}

func TestService_WatcherError(t *testing.T) {
	fw := &fakeWatcher{err: errors.New("no such directory")}
	svc, err := NewService(CapabilityNative, Options{Registry: fakeRegistry(fw)})
	require.NoError(t, err)

	_, err = svc.Watch(Inputs{Directories: []string{"missing"}}, func() {})
	assert.EqualError(t, err, "no such directory")
	assert.Equal(t, 0, svc.Active())
}
