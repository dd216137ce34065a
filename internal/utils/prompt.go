package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks before a risky action such as force-resuming interrupted
// non-resumable tasks. autoApprove skips the prompt.
func Confirm(in io.Reader, out io.Writer, autoApprove bool, action string, items []string) (bool, error) {
	if autoApprove {
		return true, nil
	}

	box := NewBox(WarningMessage, "About to "+action)
	for _, item := range items {
		box.AddBullet(item)
	}
	fmt.Fprintln(out, box.Render())
	fmt.Fprint(out, "Are you sure you want to continue? (yes/no): ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	input = strings.ToLower(strings.TrimSpace(input))
	return input == "yes" || input == "y", nil
}
