// Package logging provides opt-in file-based logging with rotation.
// With --debug, structured JSON logs are written to ~/.docsearch/logs/.
// Without it, only warnings and errors reach stderr.
package logging
