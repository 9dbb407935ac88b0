package verify

import (
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/zkmpc/ceremonyd/runtime/version"
)

var (
	ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	hex64       = regexp.MustCompile(`[0-9a-f]{64}`)
)

// stripANSI removes terminal color sequences from transcript text produced
// by tooling that writes for an interactive console.
func stripANSI(s string) string {
	return ansiEscapes.ReplaceAllString(s, "")
}

// firstHex64 extracts the first 64-character lowercase hex run from command
// output, the format the verification machine prints the zkey digest in.
func firstHex64(s string) string {
	return hex64.FindString(s)
}

// writeTranscriptHeader opens a verification transcript with the verifier
// identity and the contribution under test.
func writeTranscriptHeader(w io.Writer, circuitPrefix, zkeyIndex string, startedAt time.Time) error {
	_, err := fmt.Fprintf(w,
		"%s %s (%s)\nVerification transcript for circuit %s, contribution %s\nStarted %s\n\n",
		version.SoftwareName, version.SemanticVersion(), version.GitCommit(),
		circuitPrefix, zkeyIndex, startedAt.UTC().Format(time.RFC3339),
	)
	return err
}
