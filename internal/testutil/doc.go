// Package testutil provides a controllable clock and fixtures shared by the
// storage, server and client tests.
package testutil
