// Package customercomms implements the customer communication agent. It
// writes order confirmations, delay and payment notices and stock alerts,
// keeps a per-user communication history and retries failed deliveries.
package customercomms

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/gateway"
	"github.com/hupe1980/aegis/internal/util"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
	"github.com/hupe1980/aegis/store"
)

// DeliverFunc hands a communication to an outbound channel such as email or
// SMS. A returned error leaves the communication pending for retry.
type DeliverFunc func(ctx context.Context, c Communication) error

// Options configures the customer comms agent.
type Options struct {
	Model   model.Model
	Gateway core.Gateway
	// Archive receives communications older than Retention.
	Archive core.Archive
	// Deliver sends messages out. When nil messages are only recorded.
	Deliver         DeliverFunc
	Retention       time.Duration
	CleanupInterval time.Duration
	QueueInterval   time.Duration
	Logger          logging.Logger
	Runtime         []func(o *agent.Options)
}

// Agent is the customer comms agent.
type Agent struct {
	*agent.Base

	opts       Options
	logger     logging.Logger
	storefront *gateway.Storefront

	history     *store.Table[string, []Communication]
	preferences *store.Table[string, map[string]any]
	// watchers maps a product id to the set of users watching it
	watchers *store.Table[string, map[string]struct{}]
	// alerted holds the last stock level a user was alerted about, keyed by user and product
	alerted *store.Table[string, int]
	// pending holds communication ids awaiting delivery, mapped to their user
	pending *store.Table[string, string]
	// drainMu keeps overlapping drains from delivering the same message twice
	drainMu sync.Mutex
}

// New creates a stopped customer comms agent.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{
		Retention:       30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		QueueInterval:   30 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := &Agent{
		opts:        opts,
		history:     store.NewTable[string, []Communication](store.WithClone(slices.Clone[[]Communication])),
		preferences: store.NewTable[string, map[string]any](store.WithClone(maps.Clone[map[string]any])),
		watchers:    store.NewTable[string, map[string]struct{}](store.WithClone(maps.Clone[map[string]struct{}])),
		alerted:     store.NewTable[string, int](),
		pending:     store.NewTable[string, string](),
	}
	runtime := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Name = "customer_comms"
		o.Logger = opts.Logger
	}}, opts.Runtime...)
	a.Base = agent.New(agents.CustomerCommsID, a, runtime...)
	a.logger = a.Base.Logger()

	if opts.Gateway != nil {
		a.storefront = gateway.NewStorefront(opts.Gateway, agents.CustomerCommsID)
	}

	if err := a.Every("retention_cleanup", opts.CleanupInterval, a.cleanup); err != nil {
		a.logger.Error("Cannot schedule task", "task", "retention_cleanup", "error", err.Error())
	}
	if err := a.Every("queue_drain", opts.QueueInterval, a.drain); err != nil {
		a.logger.Error("Cannot schedule task", "task", "queue_drain", "error", err.Error())
	}
	return a
}

// HandleMessage implements core.Handler.
func (a *Agent) HandleMessage(ctx context.Context, msg core.Message) (*core.Result, error) {
	switch msg.Kind {
	case core.KindEvent:
		return a.handleEvent(ctx, msg.Payload)
	case core.KindRequest:
		return a.handleRequest(ctx, msg.Payload)
	default:
		return core.Unrecognized(msg.Kind, msg.Type()), nil
	}
}

func (a *Agent) handleEvent(ctx context.Context, p core.Payload) (*core.Result, error) {
	orderID, userID := p.String("order_id"), p.String("user_id")

	switch typ := EventType(p.Type()); typ {
	case EventOrderCreated:
		orderData := p.Map("order_data")
		a.logger.Info("Sending order confirmation", "order_id", orderID, "user_id", userID)
		msg := a.compose(ctx, KindOrderConfirmation, orderConfirmationPrompt, map[string]any{
			"customer": a.customerName(ctx, userID),
			"order_id": orderID,
			"items":    itemIDs(orderData),
			"total":    orderData["total_amount"],
		})
		a.send(ctx, userID, KindOrderConfirmation, msg, map[string]any{"order_id": orderID, "order_data": map[string]any(orderData)})
		return core.OK(core.Payload{"status": "confirmation_sent", "order_id": orderID, "user_id": userID}), nil

	case EventShippingDelayed:
		reason := p.String("delay_reason")
		a.logger.Info("Sending delay notification", "order_id", orderID, "user_id", userID)
		msg := a.compose(ctx, KindDelayNotification, delayPrompt, map[string]any{
			"customer": a.customerName(ctx, userID),
			"order_id": orderID,
			"reason":   reason,
		})
		a.send(ctx, userID, KindDelayNotification, msg, map[string]any{"order_id": orderID, "delay_reason": reason})
		return core.OK(core.Payload{"status": "delay_notification_sent", "order_id": orderID, "user_id": userID}), nil

	case EventPaymentFailed:
		reason := p.String("error_reason")
		a.logger.Info("Sending payment failure resolution", "order_id", orderID, "user_id", userID)
		msg := a.compose(ctx, KindPaymentFailed, paymentPrompt, map[string]any{
			"customer": a.customerName(ctx, userID),
			"order_id": orderID,
			"reason":   reason,
		})
		a.send(ctx, userID, KindIssueResolution, msg, map[string]any{
			"order_id":     orderID,
			"issue_type":   "payment_failed",
			"error_reason": reason,
		})
		return core.OK(core.Payload{"status": "resolution_sent", "order_id": orderID, "user_id": userID}), nil

	case EventInventoryLow:
		return core.OK(a.inventoryLow(ctx, p)), nil

	default:
		return core.Unrecognized(core.KindEvent, string(typ)), nil
	}
}

func (a *Agent) handleRequest(ctx context.Context, p core.Payload) (*core.Result, error) {
	userID := p.String("user_id")

	switch typ := RequestType(p.Type()); typ {
	case RequestSendMessage:
		kind := p.String("message_type")
		msgCtx := map[string]any(p.Map("context"))
		msg := a.compose(ctx, kind, customPrompt, map[string]any{
			"customer": a.customerName(ctx, userID),
			"kind":     kind,
			"content":  p.String("content"),
			"context":  msgCtx,
		})
		a.send(ctx, userID, kind, msg, msgCtx)
		return core.OK(core.Payload{"status": "custom_message_sent", "user_id": userID, "message_type": kind}), nil

	case RequestGetCommunicationHistory:
		limit := p.Int("limit", defaultHistory)
		history := a.History(userID)
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}
		return core.OK(core.Payload{
			"status":         "history_retrieved",
			"user_id":        userID,
			"communications": agents.ToMaps(history),
		}), nil

	case RequestUpdateUserPreferences:
		prefs := a.updatePreferences(userID, p.Map("preferences"))
		return core.OK(core.Payload{"status": "preferences_updated", "user_id": userID, "preferences": prefs}), nil

	default:
		return core.Unrecognized(core.KindRequest, string(typ)), nil
	}
}

// inventoryLow alerts every user watching the product, at most once per
// user for a given stock level.
func (a *Agent) inventoryLow(ctx context.Context, p core.Payload) core.Payload {
	productID := p.String("product_id")
	stock := p.Int("current_stock", 0)
	a.logger.Info("Handling low inventory communication", "product_id", productID, "current_stock", stock)

	var affected []string
	for _, userID := range a.watchersOf(productID) {
		key := userID + "|" + productID
		if last, ok := a.alerted.Get(key); ok && last == stock {
			continue
		}
		a.alerted.Upsert(key, stock)

		msg := a.compose(ctx, KindInventoryAlert, inventoryAlertPrompt, map[string]any{
			"customer": a.customerName(ctx, userID),
			"product":  a.productName(ctx, productID),
			"stock":    stock,
		})
		a.send(ctx, userID, KindInventoryAlert, msg, map[string]any{"product_id": productID, "current_stock": stock})
		affected = append(affected, userID)
	}

	return core.Payload{
		"status":         "inventory_alerts_sent",
		"product_id":     productID,
		"affected_users": len(affected),
		"users":          affected,
	}
}

// compose asks the model to write a message and falls back to the template
// of kind when that fails or the answer lacks a subject or body.
func (a *Agent) compose(ctx context.Context, kind, promptText string, data map[string]any) Message {
	prompt, err := util.RenderTemplate(promptText, data)
	if err == nil {
		var msg Message
		if agents.Consult(ctx, a.opts.Model, a.logger, kind, prompt, &msg) == nil && msg.Subject != "" && msg.Body != "" {
			return msg
		}
	}
	return fallbackMessage(kind, data)
}

func fallbackMessage(kind string, data map[string]any) Message {
	tpl, ok := Templates[kind]
	if !ok {
		tpl = genericTemplate
	}
	subject, err := util.RenderTemplate(tpl.Subject, data)
	if err != nil {
		subject = genericTemplate.Subject
	}
	return Message{
		Subject:              subject,
		Body:                 tpl.Body,
		CallToAction:         "Learn more",
		PersonalizationNotes: "Fallback message",
	}
}

// send records the communication and attempts delivery. Failed deliveries
// stay pending and are retried by the queue drain task.
func (a *Agent) send(ctx context.Context, userID, kind string, msg Message, msgCtx map[string]any) Communication {
	c := Communication{
		ID:          core.NewID(),
		UserID:      userID,
		MessageType: kind,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Context:     msgCtx,
		Status:      StatusPending,
		Timestamp:   time.Now().UTC(),
	}
	c = a.attempt(ctx, c)

	a.history.Mutate(userID, func() []Communication { return nil }, func(h *[]Communication) {
		*h = append(*h, c)
	})
	if c.Status == StatusPending {
		a.pending.Upsert(c.ID, userID)
	}
	return c
}

func (a *Agent) attempt(ctx context.Context, c Communication) Communication {
	c.Attempts++
	if a.opts.Deliver == nil {
		c.Status = StatusSent
		a.logger.Info("Sent message", "message_type", c.MessageType, "user_id", c.UserID)
		return c
	}
	if err := a.opts.Deliver(ctx, c); err != nil {
		a.logger.Warn("Message delivery failed", "message_type", c.MessageType, "user_id", c.UserID, "attempt", c.Attempts, "error", err.Error())
		if c.Attempts >= maxAttempts {
			c.Status = StatusFailed
		}
		return c
	}
	c.Status = StatusSent
	a.logger.Info("Sent message", "message_type", c.MessageType, "user_id", c.UserID)
	return c
}

// drain retries pending deliveries. Delivery runs outside the history lock;
// the outcome is written back by id.
func (a *Agent) drain(ctx context.Context) error {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	for _, id := range a.pending.Keys() {
		userID, ok := a.pending.Get(id)
		if !ok {
			continue
		}
		c, ok := a.communication(userID, id)
		if !ok {
			a.pending.Delete(id)
			continue
		}

		c = a.attempt(ctx, c)
		err := a.history.Update(userID, func(h *[]Communication) error {
			i := slices.IndexFunc(*h, func(x Communication) bool { return x.ID == id })
			if i < 0 {
				return store.ErrNotFound
			}
			(*h)[i] = c
			return nil
		})
		if err != nil || c.Status != StatusPending {
			a.pending.Delete(id)
		}
	}
	return nil
}

func (a *Agent) communication(userID, id string) (Communication, bool) {
	h, _ := a.history.Get(userID)
	i := slices.IndexFunc(h, func(x Communication) bool { return x.ID == id })
	if i < 0 {
		return Communication{}, false
	}
	return h[i], true
}

// cleanup archives and drops communications older than the retention period.
func (a *Agent) cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-a.opts.Retention)
	for _, userID := range a.history.Keys() {
		var aged []Communication
		_ = a.history.Update(userID, func(h *[]Communication) error {
			kept := make([]Communication, 0, len(*h))
			for _, c := range *h {
				if c.Timestamp.Before(cutoff) {
					aged = append(aged, c)
					continue
				}
				kept = append(kept, c)
			}
			*h = kept
			return nil
		})
		for _, c := range aged {
			a.pending.Delete(c.ID)
			a.archive(ctx, c)
		}
		if len(aged) > 0 {
			a.logger.Info("Cleaned up old communications", "user_id", userID, "count", len(aged))
		}
	}
	return nil
}

func (a *Agent) archive(ctx context.Context, c Communication) {
	if a.opts.Archive == nil {
		return
	}
	data, err := core.ToPayload(c)
	if err != nil {
		return
	}
	if err := a.opts.Archive.Put(ctx, core.Record{
		Collection: historyCollection,
		Key:        c.ID,
		Data:       data,
		ArchivedAt: time.Now().UTC(),
	}); err != nil {
		a.logger.Error("Cannot archive communication", "id", c.ID, "error", err.Error())
	}
}

func (a *Agent) updatePreferences(userID string, update core.Payload) map[string]any {
	prefs := a.preferences.Mutate(userID, func() map[string]any { return map[string]any{} }, func(p *map[string]any) {
		maps.Copy(*p, update)
	})

	if update.Has(watchlistKey) {
		watched := make(map[string]struct{})
		for _, id := range update.Strings(watchlistKey) {
			watched[id] = struct{}{}
		}
		for _, productID := range a.watchers.Keys() {
			if _, ok := watched[productID]; ok {
				continue
			}
			_ = a.watchers.Update(productID, func(users *map[string]struct{}) error {
				delete(*users, userID)
				return nil
			})
		}
		for productID := range watched {
			a.watchers.Mutate(productID, func() map[string]struct{} { return map[string]struct{}{} }, func(users *map[string]struct{}) {
				(*users)[userID] = struct{}{}
			})
		}
	}
	return prefs
}

func (a *Agent) watchersOf(productID string) []string {
	users, _ := a.watchers.Get(productID)
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

func (a *Agent) customerName(ctx context.Context, userID string) string {
	if a.storefront == nil || userID == "" {
		return "Valued Customer"
	}
	u, err := a.storefront.User(ctx, userID)
	if err != nil || u.FirstName == "" {
		return "Valued Customer"
	}
	return u.FirstName
}

func (a *Agent) productName(ctx context.Context, productID string) string {
	if a.storefront == nil {
		return productID
	}
	resp := a.storefront.GetProduct(ctx, productID)
	var p gateway.Product
	if !resp.Success || gateway.DecodeData(resp, &p) != nil || p.Name == "" {
		return productID
	}
	return p.Name
}

// History returns the communications of userID, oldest first.
func (a *Agent) History(userID string) []Communication {
	h, _ := a.history.Get(userID)
	return h
}

// Preferences returns the stored preferences of userID.
func (a *Agent) Preferences(userID string) map[string]any {
	p, _ := a.preferences.Get(userID)
	return p
}

func itemIDs(orderData core.Payload) []string {
	var ids []string
	for _, item := range orderData.Maps("items") {
		if id := item.String("product_id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
