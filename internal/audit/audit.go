// Package audit journals every authenticated API request as one JSON
// line per event, with secrets redacted before anything touches disk.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// Sink limits.
const (
	DefaultMaxFileBytes = 50 * 1024 * 1024
	MaxFileSuffix       = 20
	MaxQueryResults     = 500
	MaxFilterLength     = 128
)

const redactedPlaceholder = "[REDACTED]"
const circularPlaceholder = "[CIRCULAR]"

var datePattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)

var fileNamePattern = regexp.MustCompile(`^audit-([0-9]{4}-[0-9]{2}-[0-9]{2})(?:_([0-9]+))?\.jsonl$`)

// Event is one journaled request.
type Event struct {
	Timestamp  string                 `json:"ts"`
	User       string                 `json:"user"`
	Role       string                 `json:"role"`
	Method     string                 `json:"method"`
	Path       string                 `json:"path"`
	Status     int                    `json:"status"`
	IP         string                 `json:"ip,omitempty"`
	UserAgent  string                 `json:"userAgent,omitempty"`
	DurationMs float64                `json:"durationMs"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

var secretKeyMarkers = []string{"password", "pass", "pwd", "secret", "token", "auth", "cookie"}

// Redact replaces secret-named values with a placeholder, recursively.
// Self-referential structures collapse to a marker instead of looping.
func Redact(value interface{}) interface{} {
	return redactValue(value, make(map[uintptr]bool))
}

func redactValue(value interface{}, seen map[uintptr]bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		ptr := reflect.ValueOf(v).Pointer()
		if seen[ptr] {
			return circularPlaceholder
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			if isSecretKey(key) {
				out[key] = redactedPlaceholder
				continue
			}
			out[key] = redactValue(val, seen)
		}
		return out
	case []interface{}:
		ptr := reflect.ValueOf(v).Pointer()
		if seen[ptr] {
			return circularPlaceholder
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = redactValue(item, seen)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// QueryOptions filter a day's events.
type QueryOptions struct {
	User     string
	Action   string
	Contains string
	Limit    int
}

// Sink appends events to per-day journal files, rotating on size.
type Sink struct {
	dir      string
	maxBytes int64
	logger   logging.Logger

	mu sync.Mutex
	wg sync.WaitGroup

	now func() time.Time
}

// NewSink creates the journal directory if needed.
func NewSink(dir string, logger logging.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &Sink{dir: dir, maxBytes: DefaultMaxFileBytes, logger: logger, now: time.Now}, nil
}

// Record journals the event without blocking the request path. Failures
// are logged and dropped.
func (s *Sink) Record(evt Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Append(evt); err != nil {
			s.logger.WithError(err).Warn("Audit event dropped")
		}
	}()
}

// Flush waits for in-flight Record calls. Tests and shutdown use it.
func (s *Sink) Flush() {
	s.wg.Wait()
}

// Append journals the event synchronously.
func (s *Sink) Append(evt Event) error {
	if evt.Timestamp == "" {
		evt.Timestamp = s.now().UTC().Format(time.RFC3339Nano)
	}
	if evt.Meta != nil {
		evt.Meta, _ = Redact(evt.Meta).(map[string]interface{})
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.activeFileLocked(s.now().UTC().Format("2006-01-02"), int64(len(line)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// activeFileLocked picks the journal file for the day: the first file in
// the suffix chain with room left. When every suffix is full the last
// one keeps growing rather than losing events.
func (s *Sink) activeFileLocked(date string, incoming int64) string {
	for suffix := 1; suffix <= MaxFileSuffix; suffix++ {
		path := s.filePath(date, suffix)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return path
		}
		if err == nil && info.Size()+incoming <= s.maxBytes {
			return path
		}
	}
	s.logger.WithFields(logging.Fields{"date": date}).Warn("Audit rotation exhausted, appending past size limit")
	return s.filePath(date, MaxFileSuffix)
}

func (s *Sink) filePath(date string, suffix int) string {
	if suffix <= 1 {
		return filepath.Join(s.dir, fmt.Sprintf("audit-%s.jsonl", date))
	}
	return filepath.Join(s.dir, fmt.Sprintf("audit-%s_%d.jsonl", date, suffix))
}

// Query returns a day's events newest first, filters applied.
func (s *Sink) Query(date string, opts QueryOptions) ([]Event, error) {
	if !datePattern.MatchString(date) {
		return nil, fmt.Errorf("invalid date %q", date)
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxQueryResults {
		limit = MaxQueryResults
	}

	var events []Event
	for suffix := 1; suffix <= MaxFileSuffix; suffix++ {
		raw, err := os.ReadFile(s.filePath(date, suffix))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read audit file: %w", err)
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(line), &evt); err != nil {
				// Torn writes happen; a bad line never hides the rest.
				continue
			}
			if matchesFilters(evt, opts) {
				events = append(events, evt)
			}
		}
	}

	// Files are append-ordered; newest first means reversed.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func matchesFilters(evt Event, opts QueryOptions) bool {
	if opts.User != "" && !strings.EqualFold(evt.User, opts.User) {
		return false
	}
	if opts.Action != "" {
		action, _ := evt.Meta["action"].(string)
		if action != opts.Action {
			return false
		}
	}
	if opts.Contains != "" && !strings.Contains(evt.Path, opts.Contains) {
		return false
	}
	return true
}

// Dates lists the days that have journal files, newest first.
func (s *Sink) Dates() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list audit directory: %w", err)
	}
	seen := make(map[string]bool)
	var dates []string
	for _, entry := range entries {
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		dates = append(dates, m[1])
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// ValidDate reports whether raw is a usable journal date.
func ValidDate(raw string) bool {
	return datePattern.MatchString(raw)
}

// ValidFilter reports whether a query filter value is within bounds.
func ValidFilter(raw string) bool {
	return len(raw) <= MaxFilterLength
}
