package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// consumeStream reads a server-sent-event style line stream and returns the
// accumulated text plus the last reported token count.
//
// Lines that are blank or carry no "data:" prefix are ignored, as are
// chunks that fail to parse. "data: [DONE]" ends the stream; a body that
// ends without it is still a successful call with whatever accumulated.
// Each fragment is appended, handed to onFragment, and then cancelled is
// consulted; a true answer abandons the stream.
func consumeStream(body io.Reader, payloadType string, onFragment func(string), cancelled func() bool) (string, int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var builder strings.Builder
	tokens := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		fragment, chunkTokens, ok := extractFragment(payloadType, []byte(payload))
		if !ok {
			continue
		}
		if chunkTokens > 0 {
			tokens = chunkTokens
		}
		if fragment == "" {
			continue
		}

		builder.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
		if cancelled != nil && cancelled() {
			return builder.String(), tokens, errCancelledByCheck
		}
	}

	if err := scanner.Err(); err != nil {
		return builder.String(), tokens, fmt.Errorf("failed to read stream: %w", err)
	}
	return builder.String(), tokens, nil
}
