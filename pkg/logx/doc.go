// Package logx is relaybot's structured logging layer.
//
// Logger is a value type over zerolog. Its zero value discards everything,
// so components can hold one without nil checks. A Service owns the sinks:
//   - console output with a short timestamp and caller
//   - an optional JSON file rotated by lumberjack
//
// Service.Apply swaps sinks and level in place, so loggers handed out
// earlier follow a config reload.
package logx
