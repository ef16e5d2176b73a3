package core

// Logger is the logging sink shared by the API, the admin CLI and the entity caches.
// expected args fmt: error | map[string]interface{} (extras) | Person
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the API client a log entry relates to.
type Person struct {
	ID   string
	Name string
}
