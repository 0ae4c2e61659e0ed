package model

// Token usage travels through rows in the Codex token_count shape:
// info.total_token_usage with input_tokens including cached input.

func intField(v JSON, key string) int64 {
	f, ok := v.Get(key)
	if !ok {
		return 0
	}
	n, _ := f.Int()
	return n
}

// TokenUsageFromInfo reads the cumulative total from a token_count info
// object.
func TokenUsageFromInfo(info JSON) (TokenUsage, bool) {
	total, ok := info.Get("total_token_usage")
	if !ok || total.Kind() != JSONObject {
		return TokenUsage{}, false
	}
	input := intField(total, "input_tokens")
	cached := intField(total, "cached_input_tokens")
	u := TokenUsage{
		Input:         input - cached,
		Output:        intField(total, "output_tokens"),
		CacheRead:     cached,
		CacheCreation: intField(total, "cache_creation_input_tokens"),
		Total:         intField(total, "total_tokens"),
	}
	if u.Input < 0 {
		u.Input = 0
	}
	if u.Total == 0 {
		u.Total = u.Input + u.Output + u.CacheRead + u.CacheCreation
	}
	return u, true
}

// TokenInfoJSON is the inverse of TokenUsageFromInfo.
func TokenInfoJSON(u TokenUsage) JSON {
	return ObjectJSON(map[string]JSON{
		"total_token_usage": ObjectJSON(map[string]JSON{
			"input_tokens":                IntJSON(u.Input + u.CacheRead),
			"cached_input_tokens":         IntJSON(u.CacheRead),
			"cache_creation_input_tokens": IntJSON(u.CacheCreation),
			"output_tokens":               IntJSON(u.Output),
			"total_tokens":                IntJSON(u.Total),
		}),
	})
}
