// Package story implements the segmented progress controller behind the
// Discover Cards carousel. A Coordinator sequences a fixed number of segments,
// each of which a Controller animates from 0 to 1 over a fixed duration using
// periodic ticks from a Scheduler. Hosts drive it with navigation commands
// (Start, Next, Previous, Seek, Pause, Resume, Reset, Cancel) and observe it
// through per-instance listeners, progress events and State snapshots.
//
// Nothing in this package is safe for concurrent use. Every command and every
// tick must be delivered from one serialized queue; internal/loop provides
// such a queue for production and storytest provides a manual one for tests.
// Invalid or redundant commands are ignored rather than reported.
package story
