// Package notice builds the localized, user-visible notifications the roll
// workflow raises and delivers them through a Notifier.
package notice

import (
	"context"
	"sync"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys registered in the catalogs.
const (
	KeyRequestSent    = "notice.request_sent"
	KeyInvalidFormula = "notice.invalid_formula"
	KeyRollCancelled  = "notice.roll_cancelled"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one user-visible notification, localized at delivery.
type Notice struct {
	Level Level
	Key   string
	Args  []any
}

// RequestSent tells the coordinator which participant received a request.
func RequestSent(participantName string) Notice {
	return Notice{Level: LevelInfo, Key: KeyRequestSent, Args: []any{participantName}}
}

// InvalidFormula reports a roll formula that could not be parsed.
func InvalidFormula(formula, actorName string) Notice {
	return Notice{Level: LevelError, Key: KeyInvalidFormula, Args: []any{formula, actorName}}
}

// RollCancelled reports that a roll dialog was dismissed.
func RollCancelled(actorName string) Notice {
	return Notice{Level: LevelWarning, Key: KeyRollCancelled, Args: []any{actorName}}
}

// Notifier delivers notices to the local user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

var supported = []language.Tag{
	language.MustParse("en-US"),
	language.MustParse("pt-BR"),
}

var matcher = language.NewMatcher(supported)

// Printer renders notices in one locale.
type Printer struct {
	tag     language.Tag
	printer *message.Printer
}

// NewPrinter picks the closest supported locale, defaulting to en-US.
func NewPrinter(locale string) Printer {
	_, index, _ := matcher.Match(language.Make(locale))
	tag := supported[index]
	return Printer{tag: tag, printer: message.NewPrinter(tag)}
}

// Tag returns the locale in use.
func (p Printer) Tag() language.Tag {
	return p.tag
}

// Text localizes n.
func (p Printer) Text(n Notice) string {
	return p.printer.Sprintf(n.Key, n.Args...)
}

// LogNotifier writes localized notices to a logger.
type LogNotifier struct {
	printer Printer
	logger  zerolog.Logger
}

// NewLogNotifier builds a notifier printing in locale.
func NewLogNotifier(locale string, logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		printer: NewPrinter(locale),
		logger:  platformlog.OrComponent(logger, "notice"),
	}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, notice Notice) {
	var event *zerolog.Event
	switch notice.Level {
	case LevelError:
		event = n.logger.Error()
	case LevelWarning:
		event = n.logger.Warn()
	default:
		event = n.logger.Info()
	}
	event.Str("notice", notice.Key).Msg(n.printer.Text(notice))
}

// Recorder keeps notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
