// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package async is the connection-lifecycle engine: callback-driven TCP
// connections over a single-threaded transport stack.
//
// Raw transport hooks fire on the stack's owner goroutine. They capture an
// owned event, count it in the connection's pending counter and hand it to
// an api.Scheduler, whose workers run the application handler and then the
// bookkeeping that may recycle the connection. Mutating calls made by
// application code are marshaled onto the owner goroutine with Stack.Call.
//
// A Conn is recycled exactly once per handle lifetime: only after Close (or
// end-of-stream, or a transport error) moved it out of Active and the last
// in-flight event finished. Listener-owned connections then return to their
// Pool for reuse.
package async
