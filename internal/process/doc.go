// Package process launches and terminates the single child process rerun
// supervises.
//
// Resolve turns the configured command string into an argv:
//   - a command line with several words runs as given ("poetry run start")
//   - a single word names a source file run with the interpreter
//     ("main" -> python3 main.py)
//
// A single word is never looked up on PATH.
//
// Start launches the argv in its own process group with stdout and stderr
// inherited. Terminate sends SIGTERM to the group once and, unless a
// timeout is given, does not wait for the child to exit.
package process
