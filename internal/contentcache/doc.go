// Package contentcache persists fetched child-block lists per block in the
// member's local store and fronts the content provider with a fetch-through
// source. Entries never expire; they live until explicitly invalidated.
package contentcache
