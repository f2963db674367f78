// Package cmap provides a sharded concurrent map.
//
// Keys are spread over a power-of-two number of shards, each guarded by its
// own RWMutex, so that session registration, lookup and removal coming from
// many connection goroutines do not serialize on a single lock.
//
// Usage:
//
//	sessions := cmap.NewString[*Session]()
//	sessions.Set("ses_01H...", s)
//	s, ok := sessions.Get("ses_01H...")
//
// Shard selection uses murmur3. String and int64 keys have dedicated
// constructors; any other comparable key needs an explicit Hasher.
package cmap
