package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// confirm asks question on out and reports whether the answer read from in
// was affirmative. force skips the prompt.
func confirm(in io.Reader, out io.Writer, question string, force bool) bool {
	if force {
		return true
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}
