// Package l3track owns Layer 3 (Track) of the sonar data model.
//
// Responsibilities: temporal smoothing of the echo distance and the rolling
// peak consistency window used by displays to tell a stable bottom return
// from a single-frame spike.
// Key types: Smoother, ConsistencyTracker.
//
// Dependency rule: L3 may depend on L1-L2, but never on the pipeline or on
// any transport. Both trackers are single-writer state owned by one channel.
package l3track
