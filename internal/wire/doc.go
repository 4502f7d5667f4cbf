// Package wire implements the private binary encoding used between the
// command recorder and the execution goroutine.
//
// The format has no schema: a Reader must consume fields in exactly the
// order and with exactly the types a Writer produced them. Integers that
// describe sizes, counts and tags use unsigned LEB128 varints. POD values
// are copied verbatim in native byte order with optional alignment padding,
// which makes the encoding unsuitable for anything that leaves the process.
package wire
