// Package serialization implements SafeTensors file I/O for checkpoint
// weights.
//
// SafeTensors layout:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw bytes]
//
// The JSON header maps tensor names to {dtype, shape, data_offsets}, with an
// optional "__metadata__" entry of string key/value pairs. Tensors are
// written in alphabetical order by name.
package serialization
