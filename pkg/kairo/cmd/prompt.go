package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// confirm asks a yes/no question on the output writer. An empty answer or EOF
// selects defaultYes.
func (rt *runtimeState) confirm(question string, defaultYes bool) (bool, error) {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	_, _ = fmt.Fprintf(rt.Writer(), "%s %s ", question, suffix)

	if rt.in == nil {
		input := rt.input
		if input == nil {
			input = os.Stdin
		}
		rt.in = bufio.NewReader(input)
	}
	line, err := rt.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return defaultYes, nil
	}
}
