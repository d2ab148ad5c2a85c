package logging

import "log/slog"

// WithComponent tags records with the subsystem that produced them.
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithPage tags records with a page position.
func WithPage(component string, pos int64) *slog.Logger {
	return GetLogger().With("component", component, "pos", pos)
}

// WithIndex tags records with an index name.
func WithIndex(name string) *slog.Logger {
	return GetLogger().With("component", "index", "index", name)
}

// WithError attaches err as a structured field.
func WithError(l *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}
