package personalization

const recommendationPrompt = `As a personalization AI, recommend products for this user.

User Profile:
- Browsing History: {{join ", " .browsing}}
- Purchase History: {{join ", " .purchases}}
- Current Items: {{join ", " .current}}

Available Products: {{join ", " .catalog}}

Recommend {{.limit}} products that are most relevant to this user. Consider
similar products to their history, complements to their current items and
popular products in their preferred categories.

Respond with a JSON array of objects with product_id, reason,
confidence_score (0-1) and category.`

const upsellPrompt = `As a personalization AI, suggest upsell products for this cart.

Cart Items: {{join ", " .cart}}
User History: {{join ", " .purchases}}

Suggest 3-5 products that would be good upsells: higher-end versions of cart
items, complementary accessories or popular add-ons.

Respond with a JSON array of objects with product_id, reason and
confidence_score (0-1).`

const bundlePrompt = `As a personalization AI, suggest product bundles for this cart.

Cart Items: {{join ", " .cart}}

Suggest 2-3 bundles that complete the look, offer good value with a discount
and include popular complementary items.

Respond with a JSON array of objects with bundle_name, products (array of
product ids), discount_percentage, total_savings and reasoning.`

const pricingPrompt = `As a pricing AI, determine the optimal price for this product.

Product ID: {{.product_id}}
Base Price: ${{.base_price}}
User Profile: {{json .profile}}

Consider price sensitivity, demand, competitive positioning, inventory levels
and seasonal factors.

Respond with a JSON object with suggested_price, discount_percentage,
reasoning and confidence_score.`
