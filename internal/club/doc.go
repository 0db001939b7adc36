// Package club implements the movie club operations on top of the rotation
// scheduler and the store: permission-guarded picks and ratings, rotation
// administration and read queries.
//
// Every call recomputes the current period from the clock. Nothing here
// keeps a cursor of whose turn it is.
package club
