// Package cmd provides the command-line interface for tally.
//
// The commands are built with Cobra and read their settings through Viper,
// so every option can come from a flag, a TALLY_ environment variable or
// the .tally.yml configuration file, in that order of precedence.
//
// # Available Commands
//
//   - serve: Run the ledger and serve it to browsers with live updates
//   - render: Print the page for one month without starting a server
//   - config show: Print the resolved configuration
//   - config validate: Check a configuration file
//   - version: Print build information
//
// # Command Examples
//
//	// Serve on another port with a watched import file
//	tally serve --port 3000 --import entries.yml
//
//	// Render November 2026 to a file
//	tally render --flags '{"month":"2026-11"}' -o november.html
//
//	// Show the configuration as JSON
//	tally config show --format json
package cmd
