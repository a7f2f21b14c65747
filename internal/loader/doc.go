// Package loader discovers modules, validates them against the module
// contract and keeps the registry in step with them.
//
// Loads are all-or-nothing: a module whose source fails to import, whose
// tools break the contract, which collides with another module or whose
// Initialize hook fails registers nothing and is recorded as failed.
// Reloads swap a module's tools atomically and leave the previous version
// in place when the new one is rejected. All structural operations are
// serialized; tool execution never waits on them.
//
// With watching enabled the loader follows the modules directory, loading
// new manifests, reloading changed ones and unloading removed ones after a
// short debounce window.
package loader
