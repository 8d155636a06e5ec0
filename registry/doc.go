// Package registry maps trusted event types to handler factories, either by
// naming convention or through an explicit table.
package registry
