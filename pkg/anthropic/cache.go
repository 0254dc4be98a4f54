package anthropic

// CachedSystem builds a single system block with a cache breakpoint. The
// suggestion prompt carries the full canonical key catalogue, which is
// identical across calls for one rule table version.
func CachedSystem(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
