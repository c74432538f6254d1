// Package analysis defines the building blocks of a Databench analysis:
// the signal registry that maps signal names to handler functions, the
// analysis descriptor with its listing metadata, and the process-wide
// catalog of all registered analyses.
//
// Registries and the catalog have a two-phase lifecycle. During startup,
// single-threaded registration code builds them up; Seal() then freezes
// them for the lifetime of the server. After sealing, all reads are
// lock-free and safe for unsynchronized concurrent access.
package analysis
