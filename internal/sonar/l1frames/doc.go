// Package l1frames owns Layer 1 (Frames) of the sonar data model.
//
// Responsibilities: turning the raw serial byte stream into validated,
// fixed-length measurement frames. This covers header scanning, XOR checksum
// verification, resynchronisation after corruption, and big-endian parsing
// of the metadata and sample array. This layer produces Frame values
// consumed by L2 (Echo).
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1frames
