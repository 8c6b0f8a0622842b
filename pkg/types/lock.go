package types

const (
	LockKeyPrefix     = "lock:"
	ResourceKeyPrefix = "resource:"

	// hash field holding the issued identifier in a cache entry
	ResourceIDField = "resource_id"
)

// lock:<name> holds the token of whoever set it; only that acquirer may
// clear it and the store expires it after the TTL if it never does
func LockKey(name string) string {
	return LockKeyPrefix + name
}

// resource:<name>
func ResourceKey(name string) string {
	return ResourceKeyPrefix + name
}
