// Package internal contains the implementation packages of tally.
//
// # Package Organization
//
// The runtime packages, from the bottom up:
//
//   - decode: decoders from loosely typed values into Go values
//   - scheduler: cooperatively scheduled processes and tasks
//   - vdom: the immutable render tree and its diff engine
//   - renderer: builds and patches the host *html.Node tree
//   - registry: effect managers, Bags and ports
//   - program: the runtime that ties an application to all of the above
//
// The application and its surfaces:
//
//   - ledger: the calendar finance application
//   - store: bbolt persistence exposed as an effect manager
//   - watcher: file system changes as application messages
//   - websocket: mirrors the host tree to browsers and forwards events
//   - server: the HTTP surface, health and metrics endpoints
//
// Support packages:
//
//   - config: Viper backed configuration with validation
//   - errors: the structured error type
//   - logging: structured logging on log/slog
//   - monitoring: metrics, health checks and alerting
//   - validation: path, origin and input checks
//   - version: build information
//   - testutils: helpers shared by tests
//
// # Message Flow
//
// Browser events arrive over the websocket, are decoded by the handlers
// attached in the view and queued on the runtime. Each frame the runtime
// applies queued messages to the model, dispatches the resulting effects
// to their managers, renders the view, diffs it against the previous
// frame and patches the host tree. The websocket hub forwards the patches
// to every connected browser.
package internal
