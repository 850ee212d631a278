// Package queue implements the bounded request queue that sits between
// callers and endpoints. It provides admission backpressure, correlates
// asynchronous completions to waiters by transaction signature, and bounds
// how long a waiter can block.
package queue
