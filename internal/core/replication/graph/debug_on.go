//go:build repgraph_debug

package graph

const debugChecks = true
