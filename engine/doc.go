// Package engine implements the process wiring layer of Aegis.
//
// The Engine owns the agent directory and the transport that connects the
// agents. It is the single place where agents are registered, started and
// stopped, and the entry point for messages coming from outside the agent
// mesh (HTTP API, CLI, tests).
//
// # Core Responsibilities
//
// Agent Management:
//   - Registry keyed by agent id; duplicate ids are rejected
//   - Directory is read-only once the engine started
//   - Parallel start with rollback on failure, parallel stop
//
// Message Injection:
//   - Dispatch: validate and deliver any envelope
//   - Publish: fire-and-forget event
//   - Request: correlated request with timeout on behalf of a caller
//
// Transport:
//   - Agents registered here are delivered to in-process
//   - Unknown ids fall through to an optional remote transport (HTTP)
//
// # Callback System
//
// Hooks run at well-defined points of the message flow (before dispatch,
// delivery failure, after request, agent start/stop). Built-ins cover
// logging and payload-type validation.
//
// # Usage
//
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
//	if err := eng.Register(orch, inv, comms); err != nil {
//	    return err
//	}
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//	defer eng.Stop(context.Background())
//
//	_ = eng.Publish(ctx, "orchestrator", "order_created", core.Payload{"order_id": "O1"})
//	res, err := eng.Request(ctx, "anomaly-resolver-agent", "get_anomaly_status", core.Payload{"anomaly_id": "X"}, 0)
package engine
