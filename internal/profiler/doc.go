// Package profiler captures time-boxed CPU profiles.
//
// A Session samples either the current process (LocalSession, backed by
// runtime/pprof) or another process exposing net/http/pprof
// (RemoteSession). Capture starts a session, waits the configured window,
// stops it and writes the result to a file, overwriting any previous run.
//
//	path, err := profiler.Capture(ctx, profiler.NewLocalSession(), profiler.NewDefaultOptions())
//
// The default output is a Chrome DevTools .cpuprofile JSON document, which
// DevTools, VS Code and speedscope open directly. FormatPprof writes the raw
// gzipped pprof protobuf instead.
package profiler
