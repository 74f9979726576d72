package wiki

// MessageLevel orders user-facing flash messages by severity.
type MessageLevel int

const (
	LevelDebug   MessageLevel = 10
	LevelInfo    MessageLevel = 20
	LevelSuccess MessageLevel = 25
	LevelWarning MessageLevel = 30
	LevelError   MessageLevel = 40
)

// Message is a one-shot notice shown to the user on the next rendered page.
type Message struct {
	Level    MessageLevel
	Text     string
	CSSClass string
}
