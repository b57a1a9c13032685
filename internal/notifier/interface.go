package notifier

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// Null discards everything. Used when no notifier is configured.
type Null struct{}

func (Null) SendText(string) error { return nil }
