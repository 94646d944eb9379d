package customercomms

const orderConfirmationPrompt = `Write a personalized order confirmation for this customer.

Customer: {{.customer}}
Order: {{.order_id}}
Order Items: {{join ", " .items}}
Total Amount: {{default "n/a" .total}}

Be warm and personal, include the order details, set expectations for
shipping and keep a professional but friendly tone.

Respond with a JSON object with subject, body, call_to_action and
personalization_notes.`

const delayPrompt = `Write an empathetic delay notification for this customer.

Customer: {{.customer}}
Order ID: {{.order_id}}
Delay Reason: {{default "unknown" .reason}}

Apologize, explain the delay clearly, give a new timeline and offer an
alternative or compensation.

Respond with a JSON object with subject, body, call_to_action and
personalization_notes.`

const paymentPrompt = `Write a helpful payment failure message for this customer.

Customer: {{.customer}}
Order ID: {{.order_id}}
Error Reason: {{default "unknown" .reason}}

Reassure the customer, explain common causes, list clear next steps and
mention that the order stays reserved.

Respond with a JSON object with subject, body, call_to_action and
personalization_notes.`

const inventoryAlertPrompt = `Write a low stock alert for this customer.

Customer: {{.customer}}
Product: {{.product}}
Current Stock: {{.stock}} units

Create urgency without being pushy and end with a clear call to action.

Respond with a JSON object with subject, body, call_to_action and
personalization_notes.`

const customPrompt = `Write a {{default "general" .kind}} message for this customer.

Customer: {{.customer}}
Content: {{.content}}
Context: {{json .context}}

Personalize it, keep it professional and actionable.

Respond with a JSON object with subject, body, call_to_action and
personalization_notes.`
