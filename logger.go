package examcache

// Fields is the structured context of a log line. The cache logs ns, id and
// key; the claim coordinator logs resource, key and reason.
type Fields map[string]any

// Logger receives diagnostics from the cache, the claim coordinator and the
// stores. The zap, logrus and slog adapters live under log/.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// NopLogger drops everything.
type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// OrNop returns l, or NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// entry is the context of a log line about one cached entity.
func (cc *cache[V]) entry(id string, err error) Fields {
	f := Fields{"ns": cc.ns, "id": id}
	if err != nil {
		f["err"] = err
	}
	return f
}
