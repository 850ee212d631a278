// Package pool tracks the endpoint rotation: which endpoints can be
// reserved, which are held by an in-flight request, and which are cooling
// down after a failure.
package pool
