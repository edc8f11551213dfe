// Package vm embeds the Luau virtual machine.
//
// This package contains:
//   - RawValue, a bit-exact mirror of the VM's tagged value
//   - Stack, a bounds-checked view over a thread's evaluation stack
//   - Ref, a registry anchor that keeps a collectible value alive
//   - Thread and VM lifecycle, including per-thread data
//   - The Error/Signal status model
//   - Value, the closed set of typed values
//
// A VM is not safe for concurrent use. Everything reachable from one VM must
// be driven by a single goroutine at a time; see server.VMWorker.
package vm
