package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const framePrefix = "data: "

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

var ErrMalformedFrame = errors.New("malformed stream frame")

type AIMessage struct {
	Content string
}

// Frame is one `data: {...}` line of the chat stream.
type Frame struct {
	Chunk     string
	Done      bool
	AIMessage *AIMessage
}

func ParseFrame(payload string) (Frame, error) {
	if !gjson.Valid(payload) {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, payload)
	}
	res := gjson.Parse(payload)
	if !res.IsObject() {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	f := Frame{
		Chunk: res.Get("chunk").String(),
		Done:  res.Get("done").Bool(),
	}
	if msg := res.Get("aiMessage"); msg.IsObject() {
		f.AIMessage = &AIMessage{Content: msg.Get("content").String()}
	}
	return f, nil
}

// ReadFrames scans r and hands every decoded frame to fn until fn returns
// true or the stream ends. Lines without the data prefix are ignored;
// frames that fail to decode go to onMalformed and are skipped.
func ReadFrames(r io.Reader, fn func(Frame) bool, onMalformed func(error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || !strings.HasPrefix(line, framePrefix) {
			continue
		}
		f, err := ParseFrame(strings.TrimPrefix(line, framePrefix))
		if err != nil {
			if onMalformed != nil {
				onMalformed(err)
			}
			continue
		}
		if fn(f) {
			return nil
		}
	}
	return sc.Err()
}
