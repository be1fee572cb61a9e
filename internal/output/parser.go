package output

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxPromptLength bounds the "ends with a question mark" input heuristic.
const MaxPromptLength = 200

// Pattern pairs a compiled regex with the file change it signals.
type Pattern struct {
	Name   string
	Change ChangeKind
	Regex  *regexp.Regexp
}

// FilePatterns are the verb families recognised as file changes.
// Families are evaluated independently; one line may match several.
var FilePatterns = []Pattern{
	{Name: "created", Change: ChangeCreated, Regex: regexp.MustCompile(`(?i)(?:created?|new file):?\s+(\S+)`)},
	{Name: "modified", Change: ChangeModified, Regex: regexp.MustCompile(`(?i)(?:modified?|updated?):?\s+(\S+)`)},
	{Name: "deleted", Change: ChangeDeleted, Regex: regexp.MustCompile(`(?i)(?:deleted?|removed?):?\s+(\S+)`)},
	{Name: "wrote", Change: ChangeModified, Regex: regexp.MustCompile(`(?i)(?:wrote?|writing):?\s+(?:to\s+)?(\S+)`)},
	{Name: "edited", Change: ChangeModified, Regex: regexp.MustCompile(`(?i)(?:edited?|editing):?\s+(\S+)`)},
}

var (
	testPassedRe  = regexp.MustCompile(`(?i)(?:test|spec)\s+(.+?)\s+(?:passed|ok)`)
	testFailedRe  = regexp.MustCompile(`(?i)(?:test|spec)\s+(.+?)\s+(?:failed|error)`)
	testSummaryRe = regexp.MustCompile(`(?i)(\d+)\s+passed.*?(\d+)\s+failed`)

	commandRe  = regexp.MustCompile("(?i)(?:ran?|executed?|running):?\\s+[`'\"]?([^`'\"]+)[`'\"]?")
	exitCodeRe = regexp.MustCompile(`(?i)exit(?:\s+code)?:?\s*(\d+)`)

	fatalRe   = regexp.MustCompile(`(?i)fatal:?\s+(.+)`)
	errorRe   = regexp.MustCompile(`(?i)error:?\s+(.+)`)
	warningRe = regexp.MustCompile(`(?i)warning:?\s+(.+)`)

	taskCompleteRe = regexp.MustCompile(`(?i)(?:task|job)\s+(.+?)\s+(?:completed?|done|finished)`)
	taskDoneRe     = regexp.MustCompile(`(?i)(?:completed?|done|finished):?\s+(.+)`)
	taskCreatedRe  = regexp.MustCompile(`(?i)(?:task|job)\s+(.+?)\s+(?:created?|added?)`)
)

var errorKeywords = []string{"failed", "cannot", "unable to"}

var thinkingKeywords = []string{
	"thinking",
	"processing",
	"analyzing",
	"working on",
	"examining",
	"considering",
	"loading",
}

var inputKeywords = []string{
	"y/n",
	"(y/n)",
	"yes/no",
	"press enter",
	"continue?",
	"proceed?",
}

// Parser turns single lines of CLI output into events.
// It holds no per-call state and is safe for concurrent use.
type Parser struct {
	now func() time.Time
}

// NewParser returns a parser stamping events with the wall clock.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// NewParserWithClock returns a parser that stamps events using now.
func NewParserWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// ParseLine classifies one line. Empty lines yield nothing. Every other
// line yields a RawOutput event followed by whatever the detectors find.
func (p *Parser) ParseLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	ts := p.now().Unix()
	events := []Event{{Kind: KindRawOutput, Timestamp: ts, Line: line}}

	events = append(events, detectFileChanges(trimmed, ts)...)
	events = append(events, detectTests(trimmed, ts)...)
	if ev, ok := detectCommand(trimmed, ts); ok {
		events = append(events, ev)
	}
	if ev, ok := detectProblem(trimmed, ts); ok {
		events = append(events, ev)
	}
	events = append(events, detectTasks(trimmed, ts)...)
	if isThinking(trimmed) {
		events = append(events, Event{Kind: KindThinking, Timestamp: ts, Message: trimmed})
	}
	if isInputRequired(trimmed) {
		events = append(events, Event{Kind: KindInputRequired, Timestamp: ts, Prompt: trimmed})
	}
	return events
}

// ParseLines classifies each line in order.
func (p *Parser) ParseLines(lines []string) []Event {
	var events []Event
	for _, line := range lines {
		events = append(events, p.ParseLine(line)...)
	}
	return events
}

func detectFileChanges(line string, ts int64) []Event {
	var events []Event
	for _, fp := range FilePatterns {
		m := fp.Regex.FindStringSubmatch(line)
		if len(m) < 2 || m[1] == "" {
			continue
		}
		events = append(events, Event{
			Kind:      KindFileChanged,
			Timestamp: ts,
			Path:      m[1],
			Change:    fp.Change,
		})
	}
	return events
}

func detectTests(line string, ts int64) []Event {
	var events []Event

	if m := testPassedRe.FindStringSubmatch(line); len(m) == 2 {
		events = append(events, Event{Kind: KindTestRan, Timestamp: ts, Name: m[1], Passed: true})
	} else if m := testFailedRe.FindStringSubmatch(line); len(m) == 2 {
		events = append(events, Event{Kind: KindTestRan, Timestamp: ts, Name: m[1], Passed: false})
	}

	if m := testSummaryRe.FindStringSubmatch(line); len(m) == 3 {
		passed, perr := strconv.Atoi(m[1])
		failed, ferr := strconv.Atoi(m[2])
		if perr == nil && ferr == nil {
			events = append(events, Event{
				Kind:      KindTestRan,
				Timestamp: ts,
				Name:      "Test Summary",
				Passed:    failed == 0,
				Details:   fmt.Sprintf("%d passed, %d failed", passed, failed),
			})
		}
	}
	return events
}

func detectCommand(line string, ts int64) (Event, bool) {
	m := commandRe.FindStringSubmatch(line)
	if len(m) < 2 {
		return Event{}, false
	}
	cmd := strings.TrimSpace(m[1])
	if cmd == "" {
		return Event{}, false
	}
	exitCode := 0
	if em := exitCodeRe.FindStringSubmatch(line); len(em) == 2 {
		if n, err := strconv.Atoi(em[1]); err == nil {
			exitCode = n
		}
	}
	return Event{Kind: KindCommandExecuted, Timestamp: ts, Command: cmd, ExitCode: exitCode}, true
}

// detectProblem applies the severity tiers in order: fatal, error,
// warning, then the keyword fallback for lines with no explicit prefix.
// At most one event is returned.
func detectProblem(line string, ts int64) (Event, bool) {
	if m := fatalRe.FindStringSubmatch(line); len(m) == 2 {
		return Event{Kind: KindError, Timestamp: ts, Message: m[1], Severity: SeverityFatal}, true
	}
	if m := errorRe.FindStringSubmatch(line); len(m) == 2 {
		return Event{Kind: KindError, Timestamp: ts, Message: m[1], Severity: SeverityError}, true
	}
	if m := warningRe.FindStringSubmatch(line); len(m) == 2 {
		return Event{Kind: KindWarning, Timestamp: ts, Message: m[1]}, true
	}
	lower := strings.ToLower(line)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return Event{Kind: KindError, Timestamp: ts, Message: line, Severity: SeverityError}, true
		}
	}
	return Event{}, false
}

func detectTasks(line string, ts int64) []Event {
	var events []Event
	if m := taskCompleteRe.FindStringSubmatch(line); len(m) == 2 {
		events = append(events, Event{Kind: KindTaskCompleted, Timestamp: ts, Description: m[1]})
	} else if m := taskDoneRe.FindStringSubmatch(line); len(m) == 2 {
		events = append(events, Event{Kind: KindTaskCompleted, Timestamp: ts, Description: m[1]})
	}
	if m := taskCreatedRe.FindStringSubmatch(line); len(m) == 2 {
		events = append(events, Event{Kind: KindTaskCreated, Timestamp: ts, Description: m[1]})
	}
	return events
}

func isThinking(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range thinkingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isInputRequired(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range inputKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return strings.HasSuffix(line, "?") && len(line) < MaxPromptLength
}
