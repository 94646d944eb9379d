package anomaly

const planPrompt = `As an anomaly resolution AI, create a resolution plan for this {{.type}} anomaly.

Details: {{json .details}}

The plan should cover: {{join "; " .focus}}.

Each step has a type (notify_customer, retry_operation, escalate_support or
update_inventory) and a data object. notify_customer takes user_id,
message_type and content; retry_operation takes operation and max_retries;
escalate_support takes priority and description; update_inventory takes
product_id and quantity_change.

Respond with a JSON object with resolution_steps (array), estimated_time,
required_resources and success_probability.`

const detectionPrompt = `As an anomaly detection AI, analyze these system metrics for anomalies.

Metrics: {{json .metrics}}

Look for unusual spikes, values outside normal ranges, correlations between
metrics and trends that indicate problems.

Respond with a JSON array of detected anomalies with anomaly_type,
metric_name, current_value, expected_value, severity (low, medium, high or
critical), description and recommended_action. Respond with [] when the
system is healthy.`
