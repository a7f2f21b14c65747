// Package module defines the contract between the loader and the units that provide tools.
//
// A Module must report a name, a version and its tool definitions. It may
// also implement Initializer, Cleaner, Prompter or Fingerprinter; the loader
// checks for those with type assertions once per load instead of probing
// at call time.
//
// A Source knows where a module comes from and builds a brand-new Module on
// every Load. Reloading a module therefore never mutates the values a
// previous load produced; in-flight calls against old handlers keep
// running against their own state.
package module
