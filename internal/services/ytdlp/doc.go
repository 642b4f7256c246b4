// Package ytdlp wraps the external fetch tool: metadata probes via
// --dump-single-json and download command construction. The tool itself is
// opaque; this package only shapes its invocations and decodes its output.
package ytdlp
