package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/match"
)

// PromptForChoice asks the user to pick one of cands by number. An empty
// answer or "s" skips and returns ok=false.
func PromptForChoice(in io.Reader, out io.Writer, cands []match.Candidate) (match.Candidate, bool) {
	if len(cands) == 0 {
		return match.Candidate{}, false
	}
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "Choose 1-%d (enter to skip): ", len(cands))

		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if err != nil && input == "" {
			if err != io.EOF {
				log.Warn().Err(err).Msg("Failed to read input, skipping feedback")
			}
			return match.Candidate{}, false
		}
		if input == "" || strings.EqualFold(input, "s") {
			return match.Candidate{}, false
		}

		n, convErr := strconv.Atoi(input)
		if convErr == nil && n >= 1 && n <= len(cands) {
			return cands[n-1], true
		}
		fmt.Fprintf(out, "Invalid choice %q\n", input)
		if err != nil {
			return match.Candidate{}, false
		}
	}
}
