/*
Package shard maps keys to replication groups and replication groups to
cluster members.

The key space is split into a fixed number of shards; a key's shard is a
pure function of the key, so every node routes identically without
coordination. Each shard is placed on the consistent hash ring under its
canonical name, and its replica set is the first distinct members found
walking the ring clockwise. Membership changes therefore move only the
shards adjacent to the changed member's ring positions.

A Descriptor is the routing view of one shard: its replica set plus the
last observed leader. The leader cache is best effort; it is refreshed
when a request bounces off a follower and dropped when it turns stale.

Membership tracks liveness by heartbeat and keeps the ring in sync, so
placement reacts to silent member failures as well as explicit joins and
leaves.
*/
package shard
