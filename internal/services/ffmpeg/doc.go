// Package ffmpeg builds transcoder invocations: fixed codec/preset argument
// tables, duration probes, finalize re-encodes, and thumbnail conversion.
package ffmpeg
