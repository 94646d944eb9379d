// Package personalization implements the recommendation and dynamic pricing
// agent. It keeps per-user profiles built from browsing, cart and order
// events and asks the LLM for suggestions, falling back to catalog order when
// the model is unavailable or its answer is unusable.
package personalization

import (
	"context"
	"fmt"
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

// Options configures the personalization agent.
type Options struct {
	Model   model.Model
	Gateway core.Gateway
	// DefaultLimit is the number of recommendations when a request names none.
	DefaultLimit int
	// CacheTTL is how long generated recommendations are kept.
	CacheTTL        time.Duration
	ProfileInterval time.Duration
	CacheInterval   time.Duration
	Logger          logging.Logger
	Runtime         []func(o *agent.Options)
}

// Agent is the personalization agent.
type Agent struct {
	*agent.Base

	opts       Options
	logger     logging.Logger
	storefront *gateway.Storefront

	profiles        *store.Table[string, Profile]
	recommendations *store.Table[string, cachedRecommendations]

	catalogMu sync.RWMutex
	catalog   []gateway.Product
}

// New creates a stopped personalization agent.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{
		DefaultLimit:    5,
		CacheTTL:        10 * time.Minute,
		ProfileInterval: 5 * time.Minute,
		CacheInterval:   10 * time.Minute,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := &Agent{
		opts:            opts,
		profiles:        store.NewTable[string, Profile](store.WithClone(cloneProfile)),
		recommendations: store.NewTable[string, cachedRecommendations](),
	}
	runtime := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Name = "personalization"
		o.Logger = opts.Logger
	}}, opts.Runtime...)
	a.Base = agent.New(agents.PersonalizationID, a, runtime...)
	a.logger = a.Base.Logger()

	if opts.Gateway != nil {
		a.storefront = gateway.NewStorefront(opts.Gateway, agents.PersonalizationID)
	}
	for name, task := range map[string]struct {
		every time.Duration
		fn    func(context.Context) error
	}{
		"profile_refresh":       {opts.ProfileInterval, a.refreshProfiles},
		"recommendation_expiry": {opts.CacheInterval, a.expireRecommendations},
	} {
		if err := a.Every(name, task.every, task.fn); err != nil {
			a.logger.Error("Cannot schedule task", "task", name, "error", err.Error())
		}
	}
	return a
}

// Initialize loads the product catalog.
func (a *Agent) Initialize(ctx context.Context) error {
	products := a.products(ctx)
	a.logger.Info("Personalization agent initialized", "products", len(products))
	return nil
}

// Profile returns a copy of the stored profile of userID.
func (a *Agent) Profile(userID string) (Profile, bool) {
	return a.profiles.Get(userID)
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
	switch typ := EventType(p.Type()); typ {
	case EventUserBrowsing:
		return a.userBrowsing(ctx, p)
	case EventCartUpdated:
		return a.cartUpdated(ctx, p)
	case EventOrderCreated:
		userID := p.String("user_id")
		purchased := productIDs(p.Map("order_data").Maps("items"))
		a.logger.Info("Updating preferences from order", "user_id", userID, "items", len(purchased))
		a.updateProfile(userID, func(pr *Profile) {
			pr.PurchaseHistory = appendBounded(pr.PurchaseHistory, purchased...)
		})
		return core.OK(core.Payload{"status": "preferences_updated", "user_id": userID}), nil
	default:
		return core.Unrecognized(core.KindEvent, string(typ)), nil
	}
}

func (a *Agent) handleRequest(ctx context.Context, p core.Payload) (*core.Result, error) {
	switch typ := RequestType(p.Type()); typ {
	case RequestGetRecommendations:
		userID := p.String("user_id")
		limit := p.Int("limit", a.opts.DefaultLimit)
		if limit <= 0 {
			limit = a.opts.DefaultLimit
		}
		recs := a.recommend(ctx, userID, productIDs(p.Map("cart_data").Maps("items")), limit)
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ProductID
		}
		return core.OK(core.Payload{
			"status":               "recommendations_generated",
			"user_id":              userID,
			"recommendations":      agents.ToMaps(recs),
			"recommended_products": ids,
		}), nil
	case RequestGetDynamicPricing:
		return a.dynamicPricing(ctx, p)
	case RequestGetBundleSuggestions:
		userID := p.String("user_id")
		bundles := a.bundles(ctx, cartItemIDs(p))
		return core.OK(core.Payload{
			"status":  "bundles_generated",
			"user_id": userID,
			"bundles": agents.ToMaps(bundles),
		}), nil
	default:
		return core.Unrecognized(core.KindRequest, string(typ)), nil
	}
}

func (a *Agent) userBrowsing(ctx context.Context, p core.Payload) (*core.Result, error) {
	userID := p.String("user_id")
	page := p.String("page")
	viewed := p.Strings("products_viewed")
	a.logger.Info("Updating preferences from browsing", "user_id", userID, "page", page, "viewed", len(viewed))

	a.updateProfile(userID, func(pr *Profile) {
		pr.BrowsingHistory = appendBounded(pr.BrowsingHistory, viewed...)
		pr.LastPage = page
	})
	recs := a.recommend(ctx, userID, viewed, a.opts.DefaultLimit)

	return core.OK(core.Payload{
		"status":          "preferences_updated",
		"user_id":         userID,
		"recommendations": agents.ToMaps(recs),
	}), nil
}

func (a *Agent) cartUpdated(ctx context.Context, p core.Payload) (*core.Result, error) {
	userID := p.String("user_id")
	items := productIDs(p.Map("cart_data").Maps("items"))
	a.logger.Info("Analyzing cart for upsell opportunities", "user_id", userID, "items", len(items))

	upsells := a.upsells(ctx, userID, items)
	bundles := a.bundles(ctx, items)

	return core.OK(core.Payload{
		"status":                 "cart_analyzed",
		"user_id":                userID,
		"upsell_recommendations": agents.ToMaps(upsells),
		"bundle_suggestions":     agents.ToMaps(bundles),
	}), nil
}

func (a *Agent) dynamicPricing(ctx context.Context, p core.Payload) (*core.Result, error) {
	userID := p.String("user_id")
	productID := p.String("product_id")
	base := p.Float("base_price", 0)
	profile := a.profile(userID)

	prompt, err := util.RenderTemplate(pricingPrompt, map[string]any{
		"product_id": productID,
		"base_price": base,
		"profile":    profile,
	})
	if err != nil {
		return nil, fmt.Errorf("render pricing prompt: %w", err)
	}

	pricing := fallbackPricing(base)
	var out Pricing
	if err := agents.Consult(ctx, a.opts.Model, a.logger, "dynamic_pricing", prompt, &out); err == nil && validPricing(out, base) {
		pricing = out
	}

	return core.OK(core.Payload{
		"status":              "pricing_calculated",
		"user_id":             userID,
		"product_id":          productID,
		"original_price":      base,
		"suggested_price":     pricing.SuggestedPrice,
		"discount_percentage": pricing.DiscountPercentage,
		"reasoning":           pricing.Reasoning,
	}), nil
}

func validPricing(p Pricing, base float64) bool {
	if p.SuggestedPrice <= 0 || p.DiscountPercentage < 0 || p.DiscountPercentage > 100 {
		return false
	}
	return base <= 0 || p.SuggestedPrice <= base*2
}

// recommend asks the model for recommendations and caches them. current
// holds the product ids the user is looking at or has in the cart.
func (a *Agent) recommend(ctx context.Context, userID string, current []string, limit int) []Recommendation {
	profile := a.profile(userID)
	catalog := a.products(ctx)

	prompt, err := util.RenderTemplate(recommendationPrompt, map[string]any{
		"browsing":  profile.BrowsingHistory,
		"purchases": profile.PurchaseHistory,
		"current":   current,
		"catalog":   catalogNames(catalog, 10),
		"limit":     limit,
	})
	var recs []Recommendation
	if err == nil {
		var out []Recommendation
		if agents.Consult(ctx, a.opts.Model, a.logger, "recommendations", prompt, &out) == nil {
			recs = sanitize(out, catalog, nil)
		}
	}
	if len(recs) == 0 {
		recs = fallbackRecommendations(catalog, limit, nil)
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}

	a.recommendations.Upsert(userID, cachedRecommendations{items: recs, generatedAt: time.Now()})
	return recs
}

func (a *Agent) upsells(ctx context.Context, userID string, cart []string) []Recommendation {
	profile := a.profile(userID)
	catalog := a.products(ctx)

	exclude := make(map[string]bool, len(cart))
	for _, id := range cart {
		exclude[id] = true
	}

	prompt, err := util.RenderTemplate(upsellPrompt, map[string]any{
		"cart":      cart,
		"purchases": profile.PurchaseHistory,
	})
	var recs []Recommendation
	if err == nil {
		var out []Recommendation
		if agents.Consult(ctx, a.opts.Model, a.logger, "upsell", prompt, &out) == nil {
			recs = sanitize(out, catalog, exclude)
		}
	}
	if len(recs) == 0 {
		recs = fallbackRecommendations(catalog, 3, exclude)
	}
	return recs
}

func (a *Agent) bundles(ctx context.Context, cart []string) []Bundle {
	prompt, err := util.RenderTemplate(bundlePrompt, map[string]any{"cart": cart})
	if err != nil {
		return []Bundle{}
	}
	var out []Bundle
	if agents.Consult(ctx, a.opts.Model, a.logger, "bundles", prompt, &out) != nil {
		return []Bundle{}
	}
	bundles := make([]Bundle, 0, len(out))
	for _, b := range out {
		if b.BundleName == "" || len(b.Products) == 0 {
			continue
		}
		bundles = append(bundles, b)
	}
	return bundles
}

// sanitize drops entries without a product id, entries in exclude and, when
// the catalog is known, unknown products. Confidence is clamped to [0,1].
func sanitize(recs []Recommendation, catalog []gateway.Product, exclude map[string]bool) []Recommendation {
	known := make(map[string]gateway.Product, len(catalog))
	for _, p := range catalog {
		known[p.ID] = p
	}
	out := make([]Recommendation, 0, len(recs))
	for _, r := range recs {
		if r.ProductID == "" || exclude[r.ProductID] {
			continue
		}
		if len(known) > 0 {
			p, ok := known[r.ProductID]
			if !ok {
				continue
			}
			if r.Name == "" {
				r.Name = p.Name
			}
		}
		r.ConfidenceScore = min(max(r.ConfidenceScore, 0), 1)
		out = append(out, r)
	}
	return out
}

func fallbackRecommendations(catalog []gateway.Product, limit int, exclude map[string]bool) []Recommendation {
	recs := make([]Recommendation, 0, limit)
	for _, p := range catalog {
		if len(recs) >= limit {
			break
		}
		if exclude[p.ID] {
			continue
		}
		category := "General"
		if len(p.Categories) > 0 {
			category = p.Categories[0]
		}
		recs = append(recs, Recommendation{
			ProductID:       p.ID,
			Name:            p.Name,
			Reason:          fallbackReason,
			ConfidenceScore: fallbackConfidence,
			Category:        category,
		})
	}
	return recs
}

// products returns the catalog, refreshing it from the gateway when possible.
func (a *Agent) products(ctx context.Context) []gateway.Product {
	if a.storefront != nil {
		products, err := a.storefront.Products(ctx, "")
		if err == nil {
			a.catalogMu.Lock()
			a.catalog = products
			a.catalogMu.Unlock()
			return products
		}
		a.logger.Warn("Catalog unavailable, using cached products", "error", err.Error())
	}
	a.catalogMu.RLock()
	defer a.catalogMu.RUnlock()
	return a.catalog
}

func (a *Agent) profile(userID string) Profile {
	return a.profiles.GetOrCreate(userID, newProfile)
}

func (a *Agent) updateProfile(userID string, fn func(p *Profile)) {
	a.profiles.Mutate(userID, newProfile, func(p *Profile) {
		fn(p)
		p.LastUpdated = time.Now().UTC()
	})
}

// refreshProfiles trims profile histories to their most recent entries.
func (a *Agent) refreshProfiles(context.Context) error {
	for _, id := range a.profiles.Keys() {
		_ = a.profiles.Update(id, func(p *Profile) error {
			p.BrowsingHistory = appendBounded(nil, p.BrowsingHistory...)
			p.PurchaseHistory = appendBounded(nil, p.PurchaseHistory...)
			return nil
		})
	}
	a.logger.Debug("Profiles refreshed", "profiles", a.profiles.Len())
	return nil
}

func (a *Agent) expireRecommendations(context.Context) error {
	cutoff := time.Now().Add(-a.opts.CacheTTL)
	evicted := a.recommendations.EvictIf(func(_ string, c cachedRecommendations) bool {
		return c.generatedAt.Before(cutoff)
	})
	if len(evicted) > 0 {
		a.logger.Debug("Recommendation cache entries expired", "count", len(evicted))
	}
	return nil
}

// CachedRecommendations returns the last recommendations generated for userID.
func (a *Agent) CachedRecommendations(userID string) ([]Recommendation, bool) {
	c, ok := a.recommendations.Get(userID)
	return c.items, ok
}

func appendBounded(history []string, items ...string) []string {
	history = append(history, items...)
	if len(history) > maxHistory {
		history = append([]string(nil), history[len(history)-maxHistory:]...)
	}
	return history
}

func productIDs(items []core.Payload) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if id := it.String("product_id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// cartItemIDs accepts cart_items as objects with a product_id or as bare ids.
func cartItemIDs(p core.Payload) []string {
	if items := p.Maps("cart_items"); len(items) > 0 {
		return productIDs(items)
	}
	return p.Strings("cart_items")
}

func catalogNames(catalog []gateway.Product, n int) []string {
	names := make([]string, 0, n)
	for _, p := range catalog {
		if len(names) == n {
			break
		}
		names = append(names, p.Name)
	}
	return names
}
