package controlpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/metrics"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

const tracerName = "github.com/upnpkit/upnpkit-go/pkg/controlpoint"

// callState is an action call awaiting its outcome.
type callState struct {
	id          uint64
	action      *proxy.Action
	clientState any
	controlURL  string
	body        []byte
	deadline    time.Time
	started     time.Time

	cancel context.CancelCauseFunc
	result chan proxy.CallResult
}

// invoker performs the action calls of one connection.
type invoker struct {
	client       *http.Client
	timeout      time.Duration
	userAgent    string
	sem          *semaphore.Weighted
	logger       *slog.Logger
	protocol     log.Logger
	connectionID string
	deviceUUID   string

	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	lastID  uint64
	pending map[uint64]*callState
}

func newInvoker(cfg Config, connectionID, deviceUUID string) *invoker {
	return &invoker{
		client:       cfg.Client,
		timeout:      cfg.ActionTimeout,
		userAgent:    cfg.UserAgent,
		sem:          semaphore.NewWeighted(int64(cfg.MaxPendingCalls)),
		logger:       cfg.Logger,
		protocol:     cfg.ProtocolLogger,
		connectionID: connectionID,
		deviceUUID:   deviceUUID,
		pending:      make(map[uint64]*callState),
	}
}

// invoke dispatches an action call. Invalid input values are reported
// synchronously; every dispatched call delivers exactly one result on the
// returned channel.
func (iv *invoker) invoke(ctx context.Context, action *proxy.Action, controlURL string, in []any, clientState any) (<-chan proxy.CallResult, error) {
	svc := action.Service()
	inArgs := action.SOAPInArguments()
	body, err := soap.EncodeCall(action.Name, svc.ServiceTypeVersionURN, inArgs, in)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.FullQualifiedName(), err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, iv.timeout, ErrActionTimeout)

	iv.mu.Lock()
	if iv.closed {
		iv.mu.Unlock()
		cancelTimeout()
		cancel(nil)
		return nil, proxy.IllegalCall("action %s is not connected to a UPnP network action", action.FullQualifiedName())
	}
	iv.lastID++
	now := time.Now()
	call := &callState{
		id:          iv.lastID,
		action:      action,
		clientState: clientState,
		controlURL:  controlURL,
		body:        body,
		deadline:    now.Add(iv.timeout),
		started:     now,
		cancel:      cancel,
		result:      make(chan proxy.CallResult, 1),
	}
	iv.pending[call.id] = call
	iv.wg.Add(1)
	iv.mu.Unlock()

	wire := make([]string, len(inArgs))
	for i, arg := range inArgs {
		wire[i], _ = arg.Type.Format(in[i])
	}
	iv.logAction(svc.ServiceID, &log.ActionEvent{
		Type:      log.MessageTypeRequest,
		CallID:    call.id,
		Action:    action.FullQualifiedName(),
		Arguments: wire,
	})
	iv.logCallState(svc.ServiceID, call.id, "IDLE", "AWAITING_RESPONSE", "")

	go func() {
		defer iv.wg.Done()
		defer cancel(nil)
		defer cancelTimeout()
		res, status := iv.perform(ctx, call)
		iv.finish(call, res, status)
	}()
	return call.result, nil
}

// perform runs the HTTP exchange of a call and classifies its outcome.
func (iv *invoker) perform(ctx context.Context, call *callState) (res proxy.CallResult, status int) {
	action := call.action
	ctx, span := otel.Tracer(tracerName).Start(ctx, "upnp.action "+action.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upnp.device_uuid", iv.deviceUUID),
			attribute.String("upnp.service_id", action.Service().ServiceID),
			attribute.String("upnp.action", action.FullQualifiedName()),
			attribute.String("url.full", call.controlURL),
		))
	defer func() {
		span.SetAttributes(attribute.String("upnp.outcome", res.Outcome.String()))
		if res.Outcome == proxy.OutcomeCompleted {
			span.SetStatus(codes.Ok, "")
		} else {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	if err := iv.sem.Acquire(ctx, 1); err != nil {
		return iv.aborted(ctx, err), 0
	}
	defer iv.sem.Release(1)
	metrics.IncActionCallsInFlight()
	defer metrics.DecActionCallsInFlight()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.controlURL, bytes.NewReader(call.body))
	if err != nil {
		return networkError(fmt.Errorf("%w: %w", ErrInvocationFailed, err)), 0
	}
	req.Header.Set("Content-Type", soap.ContentType)
	req.Header[soap.HeaderSOAPAction] = []string{soap.ActionHeader(action.Service().ServiceTypeVersionURN, action.Name)}
	req.Header.Set("User-Agent", iv.userAgent)

	resp, err := iv.client.Do(req)
	if err != nil {
		return iv.aborted(ctx, err), 0
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return iv.aborted(ctx, err), resp.StatusCode
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeResult(action, resp.Header.Get("Content-Type"), payload), resp.StatusCode
	case http.StatusInternalServerError:
		return decodeFault(resp.Header.Get("Content-Type"), payload), resp.StatusCode
	default:
		return networkError(fmt.Errorf("%w: HTTP %d %s", ErrInvocationFailed, resp.StatusCode, http.StatusText(resp.StatusCode))), resp.StatusCode
	}
}

// aborted classifies a call that ended without a response.
func (iv *invoker) aborted(ctx context.Context, err error) proxy.CallResult {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrActionTimeout), errors.Is(cause, context.DeadlineExceeded):
		return proxy.CallResult{
			Outcome: proxy.OutcomeTimedOut,
			Err:     fmt.Errorf("%w after %s", ErrActionTimeout, iv.timeout),
		}
	case cause != nil:
		return networkError(cause)
	default:
		return networkError(fmt.Errorf("%w: %w", ErrInvocationFailed, err))
	}
}

func decodeResult(action *proxy.Action, contentType string, payload []byte) proxy.CallResult {
	charset, err := soap.CheckContentType(contentType)
	if err != nil {
		return networkError(fmt.Errorf("%w: %w", ErrInvocationFailed, err))
	}
	dec, err := soap.NewDecoder(bytes.NewReader(payload), charset)
	if err != nil {
		return networkError(fmt.Errorf("%w: %w", ErrInvocationFailed, err))
	}
	out, err := soap.DecodeResult(dec, action.Name, action.SOAPOutArguments())
	if err != nil {
		return networkError(fmt.Errorf("%w: %w", ErrInvocationFailed, err))
	}
	return proxy.CallResult{Outcome: proxy.OutcomeCompleted, OutParams: out}
}

func decodeFault(contentType string, payload []byte) proxy.CallResult {
	charset, err := soap.CheckContentType(contentType)
	if err != nil {
		return networkError(fmt.Errorf("%w: HTTP 500: %w", ErrInvocationFailed, err))
	}
	dec, err := soap.NewDecoder(bytes.NewReader(payload), charset)
	if err != nil {
		return networkError(fmt.Errorf("%w: HTTP 500: %w", ErrInvocationFailed, err))
	}
	fault, err := soap.DecodeFault(dec)
	if err != nil {
		return networkError(fmt.Errorf("%w: HTTP 500: %w", ErrInvocationFailed, err))
	}
	return proxy.CallResult{Outcome: proxy.OutcomeFaulted, Fault: fault, Err: fault}
}

func networkError(err error) proxy.CallResult {
	return proxy.CallResult{Outcome: proxy.OutcomeNetworkError, Err: err}
}

// finish removes a call from the pending set and delivers its result. A
// response that arrives after close is reported as aborted.
func (iv *invoker) finish(call *callState, res proxy.CallResult, status int) {
	res.Action = call.action
	res.ClientState = call.clientState

	iv.mu.Lock()
	delete(iv.pending, call.id)
	if iv.closed && res.Outcome == proxy.OutcomeCompleted {
		res = proxy.CallResult{
			Action:      call.action,
			ClientState: call.clientState,
			Outcome:     proxy.OutcomeNetworkError,
			Err:         ErrConnectionClosed,
		}
	}
	call.result <- res
	iv.mu.Unlock()

	elapsed := time.Since(call.started)
	metrics.RecordActionCall(res.Outcome.String(), elapsed)

	serviceID := call.action.Service().ServiceID
	ev := &log.ActionEvent{
		Type:       log.MessageTypeResponse,
		CallID:     call.id,
		Action:     call.action.FullQualifiedName(),
		Outcome:    res.Outcome.String(),
		HTTPStatus: status,
		Duration:   &elapsed,
	}
	if res.Fault != nil {
		code := res.Fault.Code
		ev.FaultCode = &code
	}
	if res.Outcome == proxy.OutcomeCompleted {
		outArgs := call.action.SOAPOutArguments()
		ev.Arguments = make([]string, len(res.OutParams))
		for i, v := range res.OutParams {
			ev.Arguments[i], _ = outArgs[i].Type.Format(v)
		}
	}
	iv.logAction(serviceID, ev)
	iv.logCallState(serviceID, call.id, "AWAITING_RESPONSE", res.Outcome.String(), errString(res.Err))
	if iv.logger != nil {
		iv.logger.Debug("action call finished",
			"device_uuid", iv.deviceUUID,
			"action", call.action.FullQualifiedName(),
			"call_id", call.id,
			"outcome", res.Outcome,
			"duration", elapsed)
	}
}

// pendingCalls returns the number of unresolved calls.
func (iv *invoker) pendingCalls() int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return len(iv.pending)
}

// close rejects new calls, aborts the pending ones and waits until all of
// them delivered their result.
func (iv *invoker) close() {
	iv.mu.Lock()
	iv.closed = true
	calls := make([]*callState, 0, len(iv.pending))
	for _, c := range iv.pending {
		calls = append(calls, c)
	}
	iv.mu.Unlock()

	for _, c := range calls {
		c.cancel(ErrConnectionClosed)
	}
	iv.wg.Wait()
}

func (iv *invoker) logAction(serviceID string, ev *log.ActionEvent) {
	dir := log.DirectionOut
	if ev.Type == log.MessageTypeResponse {
		dir = log.DirectionIn
	}
	iv.protocol.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: iv.connectionID,
		Direction:    dir,
		Layer:        log.LayerSOAP,
		Category:     log.CategoryMessage,
		DeviceUUID:   iv.deviceUUID,
		ServiceID:    serviceID,
		Action:       ev,
	})
}

func (iv *invoker) logCallState(serviceID string, callID uint64, from, to, detail string) {
	reason := fmt.Sprintf("call %d", callID)
	if detail != "" {
		reason += ": " + detail
	}
	iv.protocol.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: iv.connectionID,
		Layer:        log.LayerSOAP,
		Category:     log.CategoryState,
		DeviceUUID:   iv.deviceUUID,
		ServiceID:    serviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityCall,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
