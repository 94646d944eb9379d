package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
)

// CallbackType defines the specific lifecycle points where callbacks can be executed.
//
// Callbacks provide a flexible mechanism for hooking into the engine's message
// flow without modifying core logic. Each type represents a specific point
// where custom logic can be injected.
//
// Available callback types:
//   - BeforeDispatch: before an outside message is delivered; an error vetoes it
//   - DeliveryFailed: after a Dispatch could not be delivered
//   - AfterRequest: after Engine.Request received its response
//   - AgentStarted/AgentStopped: around agent lifecycle transitions
//
// Callbacks are executed synchronously in registration order.
type CallbackType string

const (
	// CallbackBeforeDispatch is triggered before a message is handed to the transport.
	// Use for validation, auditing or admission control.
	CallbackBeforeDispatch CallbackType = "before_dispatch"

	// CallbackDeliveryFailed is triggered when Dispatch fails to deliver.
	// Use for alerting or dead-letter bookkeeping.
	CallbackDeliveryFailed CallbackType = "delivery_failed"

	// CallbackAfterRequest is triggered when an engine request got its reply.
	// Use for metrics or result post-processing.
	CallbackAfterRequest CallbackType = "after_request"

	// CallbackAgentStarted is triggered after an agent started.
	CallbackAgentStarted CallbackType = "agent_started"

	// CallbackAgentStopped is triggered after an agent stopped.
	CallbackAgentStopped CallbackType = "agent_stopped"
)

// CallbackContext provides context information for callback execution.
// Fields not meaningful for a callback type are left zero.
type CallbackContext struct {
	// Message is the message being dispatched or requested.
	Message *core.Message

	// AgentID is the agent the callback concerns (usually the recipient).
	AgentID string

	CallbackType CallbackType

	// Result is set for CallbackAfterRequest.
	Result *core.Result

	// Err is set for CallbackDeliveryFailed.
	Err error

	// Metadata carries custom data between callbacks of one execution.
	Metadata map[string]any
}

// Callback defines the interface for engine hooks.
type Callback interface {
	// Type returns the lifecycle point this callback should be executed at.
	Type() CallbackType

	// Execute performs the callback logic. For CallbackBeforeDispatch a
	// returned error rejects the message; for other types it is ignored
	// after logging by the caller.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackBeforeDispatch,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        if cc.Message.Type() == "" {
//	            return errors.New("missing type")
//	        }
//	        return nil
//	    })
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback from a function.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager manages the registration and execution of callbacks.
// It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs all callbacks of callbackType in order, stopping at
// the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback logs every execution of its type.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a callback that logs to logger.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	args := []any{"callback", string(c.callbackType), "agent_id", callbackCtx.AgentID}
	if m := callbackCtx.Message; m != nil {
		args = append(args, "message_id", m.ID, "kind", string(m.Kind), "type", m.Type())
	}
	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
		c.logger.Warn("Engine callback", args...)
		return nil
	}
	c.logger.Debug("Engine callback", args...)
	return nil
}

// ErrMissingType is returned by TypeValidationCallback for messages without a subtype.
var ErrMissingType = errors.New("message payload has no type")

// TypeValidationCallback rejects outside messages that carry no payload
// type, or whose type is not in the allow list when one is configured.
type TypeValidationCallback struct {
	allowed map[string]bool
}

// NewTypeValidationCallback creates the validator. With no types given, any
// non-empty type passes.
func NewTypeValidationCallback(types ...string) *TypeValidationCallback {
	c := &TypeValidationCallback{}
	if len(types) > 0 {
		c.allowed = make(map[string]bool, len(types))
		for _, t := range types {
			c.allowed[t] = true
		}
	}
	return c
}

// Type implements Callback.
func (c *TypeValidationCallback) Type() CallbackType {
	return CallbackBeforeDispatch
}

// Execute implements Callback.
func (c *TypeValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	m := callbackCtx.Message
	if m == nil || m.Kind == core.KindResponse {
		return nil
	}
	typ := m.Type()
	if typ == "" {
		return ErrMissingType
	}
	if c.allowed != nil && !c.allowed[typ] {
		return errors.New("type not allowed: " + typ)
	}
	return nil
}
