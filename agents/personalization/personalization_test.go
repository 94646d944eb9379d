package personalization

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hupe1980/aegis/internal/testutil"
	"github.com/hupe1980/aegis/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogGateway() *testutil.FakeGateway {
	return testutil.NewFakeGateway().On(http.MethodGet, "/products", []any{
		map[string]any{"id": "P1", "name": "Sunglasses", "categories": []any{"accessories"}},
		map[string]any{"id": "P2", "name": "Tank Top", "categories": []any{"clothing"}},
		map[string]any{"id": "P3", "name": "Watch", "categories": []any{"accessories"}},
	})
}

func TestPersonalization_DispatchIsTotal(t *testing.T) {
	a := New(func(o *Options) { o.Model = model.NewMockModel("m") })
	ctx := context.Background()

	for _, typ := range EventTypes {
		res, err := a.HandleMessage(ctx, testutil.NewEvent(string(typ)).Build())
		require.NoError(t, err)
		assert.False(t, res.IsUnrecognized(), "event %s", typ)
	}
	for _, typ := range RequestTypes {
		res, err := a.HandleMessage(ctx, testutil.NewRequest(string(typ)).Build())
		require.NoError(t, err)
		assert.False(t, res.IsUnrecognized(), "request %s", typ)
	}

	res, err := a.HandleMessage(ctx, testutil.NewEvent("solar_flare").Build())
	require.NoError(t, err)
	assert.True(t, res.IsUnrecognized())
}

func TestPersonalization_RecommendationsFromModel(t *testing.T) {
	m := model.NewMockModel("m").AddResponse("recommend products",
		"```json\n"+`[{"product_id":"P3","reason":"matches watch interest","confidence_score":1.7},{"product_id":"ghost","reason":"x"}]`+"\n```")
	a := New(func(o *Options) {
		o.Model = m
		o.Gateway = catalogGateway()
	})

	res, err := a.HandleMessage(context.Background(), testutil.NewRequest("get_recommendations").With("user_id", "U1").Build())
	require.NoError(t, err)
	assert.Equal(t, "recommendations_generated", res.Status())

	recs := res.Data.Maps("recommendations")
	require.Len(t, recs, 1, "unknown products are dropped")
	assert.Equal(t, "P3", recs[0].String("product_id"))
	assert.Equal(t, "Watch", recs[0].String("name"))
	assert.Equal(t, 1.0, recs[0].Float("confidence_score", 0))
	assert.Equal(t, []string{"P3"}, res.Data.Strings("recommended_products"))

	cached, ok := a.CachedRecommendations("U1")
	require.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestPersonalization_RecommendationFallback(t *testing.T) {
	m := model.NewMockModel("m").FailWith(errors.New("rate limited"))
	a := New(func(o *Options) {
		o.Model = m
		o.Gateway = catalogGateway()
	})

	res, err := a.HandleMessage(context.Background(), testutil.NewRequest("get_recommendations").
		With("user_id", "U1").With("limit", 2).Build())
	require.NoError(t, err)
	assert.True(t, res.Success)

	recs := res.Data.Maps("recommendations")
	require.Len(t, recs, 2)
	assert.Equal(t, "P1", recs[0].String("product_id"))
	assert.Equal(t, fallbackReason, recs[0].String("reason"))
	assert.Equal(t, fallbackConfidence, recs[0].Float("confidence_score", 0))
	assert.Equal(t, "accessories", recs[0].String("category"))

	noCatalog := New(func(o *Options) { o.Model = m })
	res, err = noCatalog.HandleMessage(context.Background(), testutil.NewRequest("get_recommendations").Build())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Data.Maps("recommendations"))
}

func TestPersonalization_BrowsingAndOrdersUpdateProfile(t *testing.T) {
	a := New(func(o *Options) { o.Gateway = catalogGateway() })
	ctx := context.Background()

	res, err := a.HandleMessage(ctx, testutil.NewEvent("user_browsing").
		With("user_id", "U1").With("page", "/product/P1").With("products_viewed", []any{"P1", "P2"}).Build())
	require.NoError(t, err)
	assert.Equal(t, "preferences_updated", res.Status())
	assert.NotEmpty(t, res.Data.Maps("recommendations"))

	_, err = a.HandleMessage(ctx, testutil.NewEvent("order_created").
		With("user_id", "U1").
		With("order_data", map[string]any{"items": []any{map[string]any{"product_id": "P2", "quantity": 1}}}).
		Build())
	require.NoError(t, err)

	p, ok := a.Profile("U1")
	require.True(t, ok)
	assert.Equal(t, []string{"P1", "P2"}, p.BrowsingHistory)
	assert.Equal(t, []string{"P2"}, p.PurchaseHistory)
	assert.Equal(t, "/product/P1", p.LastPage)
}

func TestPersonalization_CartUpdated(t *testing.T) {
	m := model.NewMockModel("m").
		AddResponse("upsell", `[{"product_id":"P1","reason":"pairs well","confidence_score":0.9},{"product_id":"P3","reason":"premium"}]`).
		AddResponse("bundles", `[{"bundle_name":"Summer Set","products":["P1","P2"],"discount_percentage":15,"total_savings":12.5,"reasoning":"complete the look"},{"bundle_name":""}]`)
	a := New(func(o *Options) {
		o.Model = m
		o.Gateway = catalogGateway()
	})

	res, err := a.HandleMessage(context.Background(), testutil.NewEvent("cart_updated").
		With("user_id", "U1").
		With("cart_data", map[string]any{"items": []any{map[string]any{"product_id": "P1"}}}).
		Build())
	require.NoError(t, err)
	assert.Equal(t, "cart_analyzed", res.Status())

	upsells := res.Data.Maps("upsell_recommendations")
	require.Len(t, upsells, 1, "items already in the cart are not upsold")
	assert.Equal(t, "P3", upsells[0].String("product_id"))

	bundles := res.Data.Maps("bundle_suggestions")
	require.Len(t, bundles, 1)
	assert.Equal(t, "Summer Set", bundles[0].String("bundle_name"))
}

func TestPersonalization_BundleSuggestionsFallback(t *testing.T) {
	a := New(func(o *Options) { o.Model = model.NewMockModel("m").SetDefault("no idea") })

	res, err := a.HandleMessage(context.Background(), testutil.NewRequest("get_bundle_suggestions").
		With("user_id", "U1").With("cart_items", []any{"P1"}).Build())
	require.NoError(t, err)
	assert.Equal(t, "bundles_generated", res.Status())
	assert.Empty(t, res.Data.Maps("bundles"))
}

func TestPersonalization_DynamicPricing(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		price     float64
		discount  float64
		reasoning string
	}{
		{"model answer", `{"suggested_price":90,"discount_percentage":10,"reasoning":"loyal customer"}`, 90, 10, "loyal customer"},
		{"no json", "I would lower the price a bit", 100, 0, "standard pricing"},
		{"nonsense price", `{"suggested_price":-5,"discount_percentage":10}`, 100, 0, "standard pricing"},
		{"discount out of range", `{"suggested_price":50,"discount_percentage":150}`, 100, 0, "standard pricing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(func(o *Options) { o.Model = model.NewMockModel("m").SetDefault(tt.response) })

			res, err := a.HandleMessage(context.Background(), testutil.NewRequest("get_dynamic_pricing").
				With("user_id", "U1").With("product_id", "P1").With("base_price", 100.0).Build())
			require.NoError(t, err)
			assert.Equal(t, "pricing_calculated", res.Status())
			assert.Equal(t, 100.0, res.Data.Float("original_price", 0))
			assert.Equal(t, tt.price, res.Data.Float("suggested_price", 0))
			assert.Equal(t, tt.discount, res.Data.Float("discount_percentage", -1))
			assert.Equal(t, tt.reasoning, res.Data.String("reasoning"))
		})
	}
}

func TestPersonalization_PeriodicTasks(t *testing.T) {
	a := New(func(o *Options) {
		o.Gateway = catalogGateway()
		o.CacheTTL = time.Nanosecond
	})
	assert.ElementsMatch(t, []string{"profile_refresh", "recommendation_expiry"}, a.Tasks())

	viewed := make([]any, 0, maxHistory+10)
	for i := 0; i < maxHistory+10; i++ {
		viewed = append(viewed, "P1")
	}
	_, err := a.HandleMessage(context.Background(), testutil.NewEvent("user_browsing").
		With("user_id", "U1").With("products_viewed", viewed).Build())
	require.NoError(t, err)

	p, _ := a.Profile("U1")
	assert.Len(t, p.BrowsingHistory, maxHistory)

	_, ok := a.CachedRecommendations("U1")
	require.True(t, ok)
	time.Sleep(time.Millisecond)
	require.NoError(t, a.Trigger("recommendation_expiry"))
	_, ok = a.CachedRecommendations("U1")
	assert.False(t, ok)

	require.NoError(t, a.Trigger("profile_refresh"))
}

func TestPersonalization_Initialize(t *testing.T) {
	gw := catalogGateway()
	a := New(func(o *Options) { o.Gateway = gw })
	require.NoError(t, a.Initialize(context.Background()))
	require.Len(t, gw.Requests(), 1)
	assert.Equal(t, "/products", gw.Requests()[0].Endpoint)
	assert.Equal(t, "personalization-agent", gw.Requests()[0].AgentID)

}
