package client

import (
	"bufio"
	"bytes"
	"io"
)

// sseReader splits a text/event-stream body into (event, data) pairs.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReader(r)}
}

// next returns the next event. Multiple data lines are joined with "\n".
// It returns io.EOF once the body ends with no pending event.
func (s *sseReader) next() (string, []byte, error) {
	var event string
	var data [][]byte
	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				return event, bytes.Join(data, []byte("\n")), nil
			}
			return "", nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 {
				return event, bytes.Join(data, []byte("\n")), nil
			}
			event = ""
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			v := line[len("data:"):]
			if len(v) > 0 && v[0] == ' ' {
				v = v[1:]
			}
			data = append(data, append([]byte(nil), v...))
		}
		// id:, retry: and ":" comments are ignored
	}
}
