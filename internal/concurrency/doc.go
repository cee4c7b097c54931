// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker-side concurrency for hioload-tcp. Executor runs the two-phase
// event tasks of connections on a fixed set of goroutines, keeping the
// tasks of one connection in submission order.
package concurrency
