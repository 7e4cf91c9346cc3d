package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Configure points l at console: JSON lines when console is not a
// terminal, human readable text when it is. When filePath is set, entries
// are also appended to that file. The returned func closes the file.
func Configure(l *logrus.Logger, console io.Writer, level logrus.Level, filePath string) func() {
	l.SetFormatter(formatterFor(console))
	l.SetLevel(level)

	if filePath == "" {
		l.SetOutput(console)
		return func() {}
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		l.SetOutput(console)
		l.WithError(err).Error("Could not create file for logging")
		return func() {}
	}
	l.SetOutput(io.MultiWriter(console, file))
	return func() { _ = file.Close() }
}

func formatterFor(w io.Writer) logrus.Formatter {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339}
	}
	return &logrus.JSONFormatter{}
}
