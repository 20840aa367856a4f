// Package l2echo owns Layer 2 (Echo) of the sonar data model.
//
// Responsibilities: noise floor estimation, blind-zone detection and
// selection of the strongest reflection beyond the transducer ringdown.
// Key types: Extractor, Reflection, Config.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2echo
