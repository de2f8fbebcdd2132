package event

// Decoding helpers for the inbound field maps the host hands us.
// Values of the wrong type are treated as absent.

// PartFromFields extracts a MessagePart from a raw event field map.
func PartFromFields(fields map[string]any) MessagePart {
	return MessagePart{
		SessionID: str(fields, "sessionId"),
		MessageID: str(fields, "messageId"),
		PartID:    str(fields, "partId"),
		PartType:  str(fields, "partType"),
		Text:      str(fields, "text"),
	}
}

// UpdateFromFields extracts a MessageUpdate from a raw event field
// map. Usage is present only when the map carries a "usage" object
// with numeric tokens/cost.
func UpdateFromFields(fields map[string]any) MessageUpdate {
	u := MessageUpdate{
		SessionID: str(fields, "sessionId"),
		MessageID: str(fields, "messageId"),
		Role:      str(fields, "role"),
	}
	if raw, ok := fields["usage"].(map[string]any); ok {
		u.Usage = &Usage{
			Tokens: intVal(raw, "tokens"),
			Cost:   floatVal(raw, "cost"),
		}
	}
	return u
}

// IdleFromFields extracts a SessionIdle from a raw event field map.
func IdleFromFields(fields map[string]any) SessionIdle {
	return SessionIdle{SessionID: str(fields, "sessionId")}
}

func str(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func intVal(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatVal(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
