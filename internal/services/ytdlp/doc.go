// Package ytdlp mediates access to the yt-dlp CLI used during download.
//
// It normalizes command invocation, parses download progress lines, isolates
// each job in its own output directory, and exposes a testable interface for
// the download stage.
//
// Prefer this package over ad-hoc exec.Command usage when fetching audio so
// progress reporting and timeout handling remain consistent.
package ytdlp
