// Package debounce collapses bursts of keyed events into a single trailing
// callback per key, so a file saved many times in quick succession is
// reloaded once.
package debounce
