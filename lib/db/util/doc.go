// Package util provides utility functions shared by database engines that
// satisfy the db.KVDB interface and by the shard-map layer.
//
// The package contains:
//   - GenerateSeed: a random seed source for hash distribution
//   - HashString: a seeded FNV-1a string hash with stable output, used both for
//     engine-internal key distribution and for consistent-hash ring placement
package util
