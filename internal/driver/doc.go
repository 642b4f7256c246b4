// Package driver runs external tools as line-oriented child processes.
//
// A Handle merges the tool's stdout and stderr into one ordered line stream
// and owns the termination ladder: SIGTERM first, SIGKILL after a grace
// period. Workers consume lines, feed them to parsers, and reap the process
// through Wait. The Executor seam lets tests script tool behaviour without
// spawning processes.
package driver
