package core

// Logger is the app wide logger.
// args may hold errors, maps of extra data and the user on whose behalf the message is logged.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
