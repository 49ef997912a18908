//go:build !repgraph_debug

package actorlist

const debugChecks = false
