// Append-only, line-oriented log files. One file per signal kind, one line per event.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/function61/doormonitor/pkg/dmdomain"
	"github.com/function61/gokit/logex"
)

type kindLog struct {
	mu    sync.Mutex
	path  string
	lines int64 // -1 = not counted yet
}

type Store struct {
	dir  string
	loc  *time.Location
	logs map[dmdomain.Kind]*kindLog
	logl *logex.Leveled
}

// loc is used for interpreting lines in the legacy display format
func New(dir string, loc *time.Location, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}

	logs := map[dmdomain.Kind]*kindLog{}
	for _, kind := range dmdomain.Kinds {
		logs[kind] = &kindLog{
			path:  filepath.Join(dir, string(kind)+".log"),
			lines: -1,
		}
	}

	return &Store{
		dir:  dir,
		loc:  loc,
		logs: logs,
		logl: logex.Levels(logger),
	}, nil
}

func (s *Store) Path(kind dmdomain.Kind) string {
	return s.logs[kind].path
}

// Append writes one line with a single write() on an O_APPEND handle, so a failure
// never leaves existing content edited. the returned event carries its sequence number.
func (s *Store) Append(kind dmdomain.Kind, ts time.Time) (dmdomain.Event, error) {
	kl, err := s.kindLog(kind)
	if err != nil {
		return dmdomain.Event{}, err
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	if kl.lines == -1 {
		events, err := s.readAll(kind, kl.path)
		if err != nil {
			return dmdomain.Event{}, err
		}

		kl.lines = int64(len(events))
	}

	if err := appendLine(kl.path, dmdomain.FormatLine(ts)); err != nil {
		return dmdomain.Event{}, fmt.Errorf("eventlog: append %s: %w", kind, err)
	}

	kl.lines++

	return dmdomain.Event{
		Kind:      kind,
		Seq:       kl.lines,
		Timestamp: ts,
	}, nil
}

// ReadLast returns at most limit most recent events, oldest first
func (s *Store) ReadLast(kind dmdomain.Kind, limit int) ([]dmdomain.Event, error) {
	kl, err := s.kindLog(kind)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		return []dmdomain.Event{}, nil
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	events, err := s.readAll(kind, kl.path)
	if err != nil {
		return nil, err
	}

	kl.lines = int64(len(events))

	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	return events, nil
}

// Last is a shorthand for the newest event. ok=false if the log is empty.
func (s *Store) Last(kind dmdomain.Kind) (dmdomain.Event, bool, error) {
	events, err := s.ReadLast(kind, 1)
	if err != nil || len(events) == 0 {
		return dmdomain.Event{}, false, err
	}

	return events[0], true, nil
}

// sequence numbers count only parseable lines, so they stay stable across re-reads as
// long as nobody edits the file by hand
func (s *Store) readAll(kind dmdomain.Kind, path string) ([]dmdomain.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []dmdomain.Event{}, nil // nothing recorded yet
		}

		return nil, fmt.Errorf("eventlog: read %s: %w", kind, err)
	}
	defer file.Close()

	events := []dmdomain.Event{}

	reader := bufio.NewReader(file)
	for lineNo := 1; ; lineNo++ {
		line, tooLong, err := readLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("eventlog: read %s: %w", kind, err)
		}

		if tooLong {
			s.logl.Error.Printf("%s.log:%d: line too long, skipping", kind, lineNo)
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		ts, err := dmdomain.ParseLine(line, s.loc)
		if err != nil {
			s.logl.Error.Printf("%s.log:%d: %v", kind, lineNo, err)
			continue
		}

		events = append(events, dmdomain.Event{
			Kind:      kind,
			Seq:       int64(len(events) + 1),
			Timestamp: ts,
		})
	}

	return events, nil
}

func (s *Store) kindLog(kind dmdomain.Kind) (*kindLog, error) {
	kl, found := s.logs[kind]
	if !found {
		return nil, fmt.Errorf("eventlog: unknown kind: %s", kind)
	}

	return kl, nil
}

// the line goes out in a single write(). if the file doesn't end in a newline (torn or
// hand-edited last line), the write starts with one so the new line stays on its own.
func appendLine(path string, line string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}

	terminated, err := endsInNewline(file)
	if err != nil {
		file.Close()
		return err
	}

	if !terminated {
		line = "\n" + line
	}

	if _, err := file.WriteString(line + "\n"); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}

// empty file counts as terminated
func endsInNewline(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, err
	}

	if info.Size() == 0 {
		return true, nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}

	return last[0] == '\n', nil
}

// lines longer than the reader's buffer are consumed whole and reported as tooLong. the
// last line may lack its newline.
func readLine(reader *bufio.Reader) (string, bool, error) {
	line, isPrefix, err := reader.ReadLine()
	if err != nil {
		return "", false, err
	}

	if !isPrefix {
		return string(line), false, nil
	}

	for isPrefix {
		_, isPrefix, err = reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, err
		}
	}

	return "", true, nil
}
