package process

import "strings"

// SourceExt is appended to one-word commands that lack it.
const SourceExt = ".py"

// Resolve builds the argv for command. Extra args are appended last.
func Resolve(command, interpreter string, args []string) []string {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil
	}

	var argv []string
	if len(parts) == 1 {
		file := parts[0]
		if !strings.HasSuffix(file, SourceExt) {
			file += SourceExt
		}
		argv = []string{interpreter, file}
	} else {
		argv = parts
	}

	return append(argv, args...)
}
