package sqlpool

import (
	"context"
	"log/slog"
)

// HealthProbe reports whether a raw session is still usable. It must catch
// the driver's transient-error kind (via classifier) and return false; it
// may return false for any other error too. The built-in probes log such
// unexpected errors to slog.Default() rather than silently swallowing them.
type HealthProbe func(ctx context.Context, sess RawSession, classifier TransientClassifier) bool

// StandardProbe runs "SELECT 1" and rolls back, the built-in used by most
// SQL dialects.
func StandardProbe(ctx context.Context, sess RawSession, classifier TransientClassifier) bool {
	return runProbeQuery(ctx, sess, classifier, "SELECT 1")
}

// OracleProbe runs "SELECT 1 FROM DUAL", the built-in for dialects without
// a tableless SELECT.
func OracleProbe(ctx context.Context, sess RawSession, classifier TransientClassifier) bool {
	return runProbeQuery(ctx, sess, classifier, "SELECT 1 FROM DUAL")
}

// CustomProbe builds a HealthProbe around caller-supplied query text, for
// dialects that need something other than the two built-ins.
func CustomProbe(query string) HealthProbe {
	return func(ctx context.Context, sess RawSession, classifier TransientClassifier) bool {
		return runProbeQuery(ctx, sess, classifier, query)
	}
}

func runProbeQuery(ctx context.Context, sess RawSession, classifier TransientClassifier, query string) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("panic during healthcheck, connection will be invalidated", "panic", r)
			alive = false
		}
	}()

	err := sess.Exec(ctx, query)
	if err == nil {
		_ = sess.Rollback(ctx)
		return true
	}
	if classifier != nil && classifier.IsTransient(err) {
		return false
	}
	slog.Default().Error("unexpected error during healthcheck, connection will be invalidated", "error", err)
	return false
}
