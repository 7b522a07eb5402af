// Package benchmark measures an MCP server: handshake and discovery cost, latency of
// concurrent tool invocations and resource list/read latency. A Runner drives the phases
// through a Dialer and produces a BenchmarkReport, the artifact persisted by package
// report.
//
// Each phase opens its own session and closes it when the phase ends. Individual call
// failures are data: they are counted in the report and never abort a run. Failures to
// connect, to perform the handshake or to discover tools are fatal and returned as
// *ConnectionError.
package benchmark
