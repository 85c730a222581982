// Package users stores the fields of a user account that take part in
// permission resolution: the legacy system and workplace roles, the
// direct grants and the deny list. A user may not hold the same action on
// both lists.
package users
