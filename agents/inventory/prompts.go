package inventory

const demandPrompt = `As an inventory AI, forecast daily demand for this product.

Product: {{.product_id}}
Current Stock: {{.stock}}
Recent Order Quantities: {{json .history}}
Forecast Horizon: {{.horizon}} days

Respond with a JSON object with predicted_demand (array of {{.horizon}} daily
unit counts), confidence_score (0-1), risk_factors and recommendations.`

const mitigationPrompt = `As a supply chain AI, propose mitigation strategies for this disruption.

Disruption: {{.type}}
Affected Products: {{join ", " .products}}
Estimated Duration: {{default "unknown" .duration}}

Respond with a JSON array of objects with strategy, priority (high, medium or
low) and description.`

const optimizationPrompt = `As an inventory AI, optimize stock across warehouses.

Current Levels: {{json .levels}}
Reorder Thresholds: {{json .thresholds}}
Goals: {{join ", " .goals}}

Respond with a JSON object with reorder_products (array of product ids),
reorder_quantities (product id to units), warehouse_distribution (product id to
warehouse to units), cost_savings and risk_assessment.`
