package memory

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// Window is a bounded rolling record of the last N user utterances and the
// last N assistant replies of one connection. Appends come only from the turn
// controller; everything else reads.
type Window struct {
	mu       sync.RWMutex
	capacity int
	users    []string
	replies  []string
	userName string
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+([\p{L}][\p{L}'\-]{0,30})`),
	regexp.MustCompile(`(?i)\bcall me\s+([\p{L}][\p{L}'\-]{0,30})`),
	regexp.MustCompile(`(?i)\b(?:i am|i'm)\s+([\p{Lu}][\p{L}'\-]{0,30})\b`),
}

// Words after "I'm" that are states, not names.
var notNames = map[string]bool{
	"fine": true, "good": true, "okay": true, "ok": true, "here": true, "not": true,
	"sorry": true, "just": true, "going": true, "trying": true, "looking": true, "so": true,
	"tired": true, "great": true, "back": true, "sure": true, "done": true, "ready": true,
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 6
	}
	return &Window{capacity: capacity}
}

// Append records one completed exchange, evicting the oldest entries beyond capacity.
func (w *Window) Append(userText, reply string) {
	userText = strings.TrimSpace(userText)
	reply = strings.TrimSpace(reply)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.users = pushBounded(w.users, userText, w.capacity)
	w.replies = pushBounded(w.replies, reply, w.capacity)
	if name := ExtractUserName(userText); name != "" {
		w.userName = name
	}
}

func pushBounded(items []string, v string, capacity int) []string {
	items = append(items, v)
	if over := len(items) - capacity; over > 0 {
		items = append(items[:0:0], items[over:]...)
	}
	return items
}

// Len returns the number of recorded exchanges.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.users)
}

func (w *Window) UserName() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.userName
}

// Exchanges returns copies of the recorded user utterances and replies, oldest first.
func (w *Window) Exchanges() (users, replies []string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.users...), append([]string(nil), w.replies...)
}

// Snippet renders the window as prompt context.
func (w *Window) Snippet() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var b strings.Builder
	if w.userName != "" {
		b.WriteString("The user's name is ")
		b.WriteString(w.userName)
		b.WriteString(".\n")
	}
	for i := range w.users {
		b.WriteString("User: ")
		b.WriteString(w.users[i])
		b.WriteByte('\n')
		if i < len(w.replies) && w.replies[i] != "" {
			b.WriteString("Assistant: ")
			b.WriteString(w.replies[i])
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExtractUserName returns a self-introduced first name, if any.
func ExtractUserName(text string) string {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		name := strings.Trim(m[1], "'-")
		if name == "" || notNames[strings.ToLower(name)] {
			continue
		}
		r := []rune(name)
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	}
	return ""
}
