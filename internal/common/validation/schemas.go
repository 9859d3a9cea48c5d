package validation

// ResolveOrderInput validates the variables of a resolve-order-message job.
var ResolveOrderInput = MustCompile("resolve-order-message input", `{
  "type": "object",
  "required": ["messageId", "text", "conversationId"],
  "properties": {
    "messageId":      {"type": "string", "minLength": 1, "maxLength": 200},
    "text":           {"type": "string", "minLength": 1, "maxLength": 4000},
    "conversationId": {"type": "string", "minLength": 1, "maxLength": 200},
    "customerId":     {"type": "string", "maxLength": 200},
    "receivedAt":     {"type": "string", "format": "date-time"},
    "context":        {"type": "string", "maxLength": 8000}
  }
}`)

// OracleResponse validates the JSON object the language model must return.
var OracleResponse = MustCompile("oracle response", `{
  "type": "object",
  "required": ["intent", "confidence"],
  "properties": {
    "intent":     {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning":  {"type": "string"},
    "products": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name":       {"type": "string", "minLength": 1},
          "quantity":   {"type": "integer", "minimum": 0},
          "unit":       {"type": ["string", "null"]},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "deliveryDate": {"type": ["string", "null"]}
  }
}`)
