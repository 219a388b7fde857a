// Package consumer reads messages from one assigned partition into a single
// delimiter framed buffer.
//
// Range reads the half-open offset window [Start, End) under an overall time
// budget. The budget is an absolute deadline: every poll gets the time left
// until the deadline, never the full budget, and the read stops as soon as
// the deadline has passed. Running out of time is not an error; the buffer
// then holds fewer than End-Start messages and the caller checks Count.
//
// Stream has no window and no deadline. It polls with a fixed timeout and
// keeps appending newline terminated payloads until the buffer reaches a
// minimum size.
//
// Both work on anything with a Consume method (client.Handle in practice).
// Messages returned by Consume are released at the end of the poll iteration
// that received them; payloads are copied into the buffer first.
//
// Assignment is the single active (topic, partition, offset) assignment of a
// handle. Range seeks through it before reading.
package consumer
