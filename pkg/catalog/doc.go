// Package catalog holds the static permission data: the catalog of known
// actions, the action requirement matrix and the fixed system and workplace
// role hierarchies. Everything here is built once at start and read
// concurrently without locks.
package catalog
