// Package testutil contains helper builders and doubles used across tests to
// reduce boilerplate when constructing messages and observing deliveries.
// These helpers are intentionally minimal. They are not intended for
// production usage.
package testutil
