package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/term"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether v is an *os.File attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// readInput loads the proxy list from a file path, "-" for stdin, or returns
// inline text unchanged.
func readInput(in io.Reader, path, inline string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return inline, nil
	}
	if inline != "" {
		return "", fmt.Errorf("use either --file or --input, not both")
	}
	if path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read proxies from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read proxies file: %w", err)
	}
	return string(data), nil
}
