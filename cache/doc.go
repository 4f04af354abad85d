// Package cache provides the decaying key/value store used for login-attempt
// counting.
//
// [Store] is an in-process map sharded by available parallelism. Every write
// resets the entry's time-to-live, so an entry disappears once the configured
// TTL has elapsed since its last write. [Store.Update] performs the
// read-modify-write under the shard lock, which is what makes
// [MemoryCounter.Increment] race free.
//
// [Counter] is the narrow interface the engine consumes. [MemoryCounter] backs
// it with a [Store]; [RedisCounter] backs it with Redis INCR and EXPIRE in one
// transaction for deployments that already run Redis.
//
// # What this package must NOT do
//
//   - Persist entries. A restart silently resets every counter.
//   - Coordinate between processes beyond what the Redis backend offers.
//   - Import authcore or any sibling package.
package cache
