package proxy_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mockdev "github.com/upnpkit/upnpkit-go/internal/testharness/mock"
	"github.com/upnpkit/upnpkit-go/pkg/datatype"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

// ---------------------------------------------------------------------------
// stubConnection
// ---------------------------------------------------------------------------

type stubConnection struct{ mock.Mock }

func (c *stubConnection) InvokeAction(ctx context.Context, a *proxy.Action, in []any, clientState any) (<-chan proxy.CallResult, error) {
	ret := c.Called(a, in, clientState)
	var ch <-chan proxy.CallResult
	if ret.Get(0) != nil {
		ch = ret.Get(0).(<-chan proxy.CallResult)
	}
	return ch, ret.Error(1)
}

func (c *stubConnection) SubscribeEvents(ctx context.Context, s *proxy.Service) error {
	return c.Called(s).Error(0)
}

func (c *stubConnection) UnsubscribeEvents(ctx context.Context, s *proxy.Service) error {
	return c.Called(s).Error(0)
}

func (c *stubConnection) IsServiceSubscribedForEvents(s *proxy.Service) bool {
	return c.Called(s).Bool(0)
}

func buildTestDevice(t *testing.T, uuid string) *proxy.Device {
	t.Helper()
	rd, err := mockdev.ParseRootDescriptor("http://192.0.2.1/device.xml", netip.MustParseAddr("192.0.2.2"))
	require.NoError(t, err)
	d, err := proxy.BuildDevice(rd, uuid)
	require.NoError(t, err)
	return d
}

func resultChan(r proxy.CallResult) <-chan proxy.CallResult {
	ch := make(chan proxy.CallResult, 1)
	ch <- r
	return ch
}

func TestBuildDevice(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)

	assert.Equal(t, mockdev.RootUUID, d.UUID)
	assert.Equal(t, "urn:schemas-upnp-org:device:DimmableLight", d.DeviceType)
	assert.Equal(t, 1, d.DeviceTypeVersion)
	assert.Nil(t, d.Parent())
	require.Len(t, d.Services(), 2)
	require.Len(t, d.Devices(), 1)

	light := d.Devices()[0]
	assert.Equal(t, mockdev.LightUUID, light.UUID)
	assert.Same(t, d, light.Parent())
	assert.Same(t, d, light.Root())

	sp, ok := d.FindService(mockdev.SwitchPowerURN)
	require.True(t, ok)
	assert.Equal(t, "urn:schemas-upnp-org:service:SwitchPower", sp.ServiceType)
	assert.Equal(t, 1, sp.ServiceTypeVersion)
	assert.Same(t, d, sp.Device())
	assert.True(t, sp.HasEventedStateVariables())

	_, ok = d.FindServiceByID("urn:upnp-org:serviceId:Dimming.0001")
	assert.True(t, ok)

	names := []string{}
	for _, a := range sp.Actions() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"GetStatus", "GetTarget", "SetTarget"}, names)

	set, ok := sp.Action("SetTarget")
	require.True(t, ok)
	require.Len(t, set.InArguments, 1)
	assert.Empty(t, set.OutArguments)
	assert.Equal(t, "Target", set.InArguments[0].RelatedStateVariable.Name)
	assert.Equal(t, mockdev.SwitchPowerURN+"#SetTarget", set.FullQualifiedName())
	assert.Equal(t, []soap.Argument{{Name: "newTargetValue", Type: datatype.Lookup("boolean")}}, set.SOAPInArguments())

	get, _ := sp.Action("GetTarget")
	require.Len(t, get.OutArguments, 1)
	assert.True(t, get.OutArguments[0].IsReturnValue)

	status, ok := sp.StateVariable("Status")
	require.True(t, ok)
	assert.True(t, status.SendEvents)
	target, _ := sp.StateVariable("Target")
	assert.False(t, target.SendEvents)
	v, hasValue := target.Value()
	assert.False(t, hasValue)
	assert.Equal(t, false, v, "default value")
}

func TestBuildEmbeddedDevice(t *testing.T) {
	d := buildTestDevice(t, mockdev.LightUUID)
	assert.Equal(t, mockdev.LightUUID, d.UUID)
	assert.Nil(t, d.Parent())
	assert.Len(t, d.Services(), 1)
}

func TestBuildDeviceErrors(t *testing.T) {
	rd, err := mockdev.ParseRootDescriptor("http://192.0.2.1/device.xml", netip.Addr{})
	require.NoError(t, err)

	_, err = proxy.BuildDevice(rd, "no-such-device")
	assert.True(t, errors.Is(err, description.ErrDeviceNotFound))

	rd.ServiceDescriptors[mockdev.RootUUID][mockdev.DimmingURN].SCPD = nil
	_, err = proxy.BuildDevice(rd, mockdev.RootUUID)
	assert.True(t, errors.Is(err, proxy.ErrBuild))
}

func TestDisconnectedCallsAreIllegal(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)
	sp, _ := d.FindService(mockdev.SwitchPowerURN)
	set, _ := sp.Action("SetTarget")

	assert.False(t, set.IsConnected())

	_, err := set.InvokeAsync(context.Background(), []any{true}, nil)
	assert.True(t, errors.Is(err, proxy.ErrIllegalCall))

	_, err = set.Invoke(context.Background(), true)
	assert.True(t, errors.Is(err, proxy.ErrIllegalCall))

	assert.True(t, errors.Is(sp.SubscribeEvents(context.Background()), proxy.ErrIllegalCall))
	assert.True(t, errors.Is(sp.UnsubscribeEvents(context.Background()), proxy.ErrIllegalCall))
	assert.False(t, sp.IsSubscribed())
}

func TestConnectDelegates(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)
	conn := &stubConnection{}
	d.Connect(conn)

	light := d.Devices()[0]
	assert.True(t, light.IsConnected(), "embedded devices share the connection")

	sp, _ := d.FindService(mockdev.SwitchPowerURN)
	get, _ := sp.Action("GetTarget")

	conn.On("InvokeAction", get, []any(nil), nil).Return(resultChan(proxy.CallResult{
		Action:    get,
		Outcome:   proxy.OutcomeCompleted,
		OutParams: []any{true},
	}), nil)
	conn.On("SubscribeEvents", sp).Return(nil)
	conn.On("IsServiceSubscribedForEvents", sp).Return(true)
	conn.On("UnsubscribeEvents", sp).Return(nil)

	out, err := get.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{true}, out)

	require.NoError(t, sp.SubscribeEvents(context.Background()))
	assert.True(t, sp.IsSubscribed())
	require.NoError(t, sp.UnsubscribeEvents(context.Background()))

	conn.AssertExpectations(t)

	d.Disconnect()
	assert.False(t, get.IsConnected())
	assert.False(t, light.IsConnected())
}

func TestInvokeFaulted(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)
	conn := &stubConnection{}
	d.Connect(conn)

	sp, _ := d.FindService(mockdev.SwitchPowerURN)
	set, _ := sp.Action("SetTarget")
	fault := &soap.Fault{Code: 402, Description: "Invalid Args"}
	conn.On("InvokeAction", set, []any{"x"}, nil).Return(resultChan(proxy.CallResult{
		Action:  set,
		Outcome: proxy.OutcomeFaulted,
		Fault:   fault,
		Err:     fault,
	}), nil)

	_, err := set.Invoke(context.Background(), "x")
	var got *soap.Fault
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 402, got.Code)
}

func TestInvokeContextCanceled(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)
	conn := &stubConnection{}
	d.Connect(conn)

	sp, _ := d.FindService(mockdev.SwitchPowerURN)
	get, _ := sp.Action("GetStatus")
	conn.On("InvokeAction", get, []any(nil), nil).Return((<-chan proxy.CallResult)(make(chan proxy.CallResult)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := get.Invoke(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUpdateStateVariable(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)
	dim, _ := d.FindService(mockdev.DimmingURN)

	var gotName string
	var gotValue any
	dim.OnStateVariableChanged(func(sv *proxy.StateVariable, value any) {
		gotName = sv.Name
		gotValue = value
	})

	require.NoError(t, dim.UpdateStateVariable("LoadLevelStatus", "42"))
	assert.Equal(t, "LoadLevelStatus", gotName)
	assert.Equal(t, uint8(42), gotValue)

	sv, _ := dim.StateVariable("LoadLevelStatus")
	v, ok := sv.Value()
	assert.True(t, ok)
	assert.Equal(t, uint8(42), v)

	assert.Error(t, dim.UpdateStateVariable("Unknown", "1"))
	assert.True(t, errors.Is(dim.UpdateStateVariable("LoadLevelStatus", "x"), datatype.ErrInvalidText))
}

func TestFireEventSubscriptionFailed(t *testing.T) {
	d := buildTestDevice(t, mockdev.RootUUID)
	sp, _ := d.FindService(mockdev.SwitchPowerURN)

	// No handler installed
	sp.FireEventSubscriptionFailed(errors.New("ignored"))

	var got error
	sp.OnEventSubscriptionFailed(func(s *proxy.Service, err error) { got = err })
	want := errors.New("renewal failed")
	sp.FireEventSubscriptionFailed(want)
	assert.Equal(t, want, got)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "COMPLETED", proxy.OutcomeCompleted.String())
	assert.Equal(t, "TIMED_OUT", proxy.OutcomeTimedOut.String())
	assert.Equal(t, "UNKNOWN", proxy.Outcome(0).String())
}
