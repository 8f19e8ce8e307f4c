package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// LogEmitter writes events as structured text or JSON lines. It keeps no
// internal buffer, so Flush is a no-op; wrap writer in a bufio.Writer and
// flush that directly if buffering is desired.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", urlutil.RedactCredentials(string(data)))
}

func (l *LogEmitter) emitText(event Event) {
	line := fmt.Sprintf("[%s] crawl=%s seq=%d url=%s", event.Msg, event.CrawlID, event.Seq, event.URL)
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			line += fmt.Sprintf(" meta=%s", metaJSON)
		} else {
			line += fmt.Sprintf(" meta=%v", event.Meta)
		}
	}
	_, _ = fmt.Fprintln(l.writer, urlutil.RedactCredentials(line))
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

func (l *LogEmitter) Flush(_ context.Context) error { return nil }
