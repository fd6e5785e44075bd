// Package ledger persists conversations and derives the returning-user
// greeting from them.
//
// All reads and writes of conversation history, the running conversation
// counter and the user profile go through Ledger, which sits on top of a
// key-value Store. The in-memory turn list held by the orchestrator is the
// source of truth for a live session; the ledger is its write-behind mirror.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/conversation"
)

// Store keys.
const (
	KeyHistory = "conversation_history"
	KeyTotal   = "total_conversations"
	KeyProfile = "user_data"
)

// RecentTurns is how many user turns of the previous conversation are
// classified for the greeting.
const RecentTurns = 3

// ErrUnknownConversation is returned when a write names an id that was
// never begun.
var ErrUnknownConversation = errors.New("ledger: unknown conversation")

// Ledger is the single seam over persisted conversation state.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// WithIDGenerator overrides conversation id allocation.
func WithIDGenerator(f func() string) Option {
	return func(lg *Ledger) { lg.newID = f }
}

// New creates a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.L(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// Begin allocates a conversation id, persists an empty record for it and
// bumps the conversation counter. When the history cannot be read the id is
// still returned, with the error, and nothing is written.
func (l *Ledger) Begin() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.newID()
	convs, err := l.load()
	if err != nil {
		return id, err
	}
	convs = append(convs, conversation.New(id, l.now()))
	if err = l.save(convs); err != nil {
		return id, err
	}

	total := l.total() + 1
	if err := l.store.Set(KeyTotal, []byte(strconv.Itoa(total))); err != nil {
		return id, fmt.Errorf("ledger: update counter: %w", err)
	}

	l.logger.Debug("conversation begun", "id", id, "total", total)
	return id, nil
}

// Append merges turn into the record with the given id. An unknown id is
// logged and ignored.
func (l *Ledger) Append(id string, turn conversation.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load()
	if err != nil {
		return err
	}
	i := indexOf(convs, id)
	if i < 0 {
		l.logger.Warn("append to unknown conversation ignored", "id", id, "role", turn.Role)
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	convs[i].Turns = append(convs[i].Turns, turn)
	return l.save(convs)
}

// Flush replaces the persisted turns of c with its in-memory turns.
// The last writer wins.
func (l *Ledger) Flush(c conversation.Conversation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs, err := l.load()
	if err != nil {
		return err
	}
	i := indexOf(convs, c.ID)
	if i < 0 {
		l.logger.Warn("flush of unknown conversation ignored", "id", c.ID)
		return fmt.Errorf("%w: %s", ErrUnknownConversation, c.ID)
	}
	convs[i].Turns = append([]conversation.Turn(nil), c.Turns...)
	return l.save(convs)
}

// Conversations returns all persisted conversations in storage order.
// An unreadable history yields none.
func (l *Ledger) Conversations() []conversation.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history()
}

// Conversation returns the persisted record for id.
func (l *Ledger) Conversation(id string) (conversation.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	convs := l.history()
	if i := indexOf(convs, id); i >= 0 {
		return convs[i], true
	}
	return conversation.Conversation{}, false
}

// TotalConversations returns the running counter.
func (l *Ledger) TotalConversations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total()
}

func (l *Ledger) total() int {
	data, err := l.store.Get(KeyTotal)
	if err != nil {
		l.logger.Warn("read conversation counter", "error", err)
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// load reads the stored history. A store failure is returned so writers
// never replace history they could not see; malformed data decodes to
// whatever records survive.
func (l *Ledger) load() ([]conversation.Conversation, error) {
	data, err := l.store.Get(KeyHistory)
	if err != nil {
		return nil, fmt.Errorf("ledger: read history: %w", err)
	}
	return decodeHistory(data, l.logger), nil
}

// history is load for readers.
func (l *Ledger) history() []conversation.Conversation {
	convs, err := l.load()
	if err != nil {
		l.logger.Warn("read conversation history", "error", err)
	}
	return convs
}

func (l *Ledger) save(convs []conversation.Conversation) error {
	data, err := encodeHistory(convs)
	if err != nil {
		return err
	}
	if err := l.store.Set(KeyHistory, data); err != nil {
		return fmt.Errorf("ledger: write history: %w", err)
	}
	return nil
}

// indexOf searches from the end since the live conversation is newest.
func indexOf(convs []conversation.Conversation, id string) int {
	if id == "" {
		return -1
	}
	for i := len(convs) - 1; i >= 0; i-- {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}

// Profile is the stored user record.
type Profile struct {
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	LastLogin time.Time `json:"-"`
}

type profileRecord struct {
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	LastLogin int64  `json:"lastLogin,omitempty"`
}

// RecordLogin stores name as the current user and stamps the login time.
func (l *Ledger) RecordLogin(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.profile()
	p.Name = strings.TrimSpace(name)
	p.LastLogin = l.now()

	data, err := json.Marshal(profileRecord{Name: p.Name, Email: p.Email, LastLogin: toMillis(p.LastLogin)})
	if err != nil {
		return fmt.Errorf("ledger: encode profile: %w", err)
	}
	if err := l.store.Set(KeyProfile, data); err != nil {
		return fmt.Errorf("ledger: write profile: %w", err)
	}
	return nil
}

// Profile returns the stored user profile. A missing or unreadable record
// yields the zero Profile.
func (l *Ledger) Profile() Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile()
}

func (l *Ledger) profile() Profile {
	data, err := l.store.Get(KeyProfile)
	if err != nil || len(data) == 0 {
		return Profile{}
	}
	var rec profileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		l.logger.Warn("user profile unreadable", "error", err)
		return Profile{}
	}
	p := Profile{Name: rec.Name, Email: rec.Email}
	if rec.LastLogin > 0 {
		p.LastLogin = time.UnixMilli(rec.LastLogin)
	}
	return p
}

// Stats summarizes usage for the dashboard.
type Stats struct {
	TotalConversations int       `json:"total_conversations"`
	Stored             int       `json:"stored_conversations"`
	TotalTurns         int       `json:"total_turns"`
	AverageDuration    string    `json:"average_duration"`
	LastSession        time.Time `json:"last_session"`
	UserName           string    `json:"user_name"`
	LastLogin          time.Time `json:"last_login"`
}

// Stats computes usage statistics from the persisted history.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	convs := l.history()
	p := l.profile()
	s := Stats{
		TotalConversations: l.total(),
		Stored:             len(convs),
		UserName:           p.Name,
		LastLogin:          p.LastLogin,
	}

	var spans []time.Duration
	for _, c := range convs {
		s.TotalTurns += len(c.Turns)
		if c.StartedAt.After(s.LastSession) {
			s.LastSession = c.StartedAt
		}
		if n := len(c.Turns); n > 0 && !c.StartedAt.IsZero() {
			if d := c.Turns[n-1].Timestamp.Sub(c.StartedAt); d > 0 {
				spans = append(spans, d)
			}
		}
	}
	if len(spans) > 0 {
		var sum time.Duration
		for _, d := range spans {
			sum += d
		}
		s.AverageDuration = (sum / time.Duration(len(spans))).Round(time.Second).String()
	}
	return s
}

// byRecency returns convs newest first. Records without a start time keep
// their storage order after the dated ones.
func byRecency(convs []conversation.Conversation) []conversation.Conversation {
	out := slices.Clone(convs)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b conversation.Conversation) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}
