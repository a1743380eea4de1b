package canbus

import (
	"errors"

	"github.com/rs/zerolog"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone LogOption = 0
	LogRead LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedConn wraps a Conn and logs the decoded frames of selected
// operations at the given level. If filter is non-nil only matching frames
// are logged. Would-block reads are never logged.
func NewLoggedConn(inner Conn, logger zerolog.Logger, level zerolog.Level, opts LogOption, filter FrameFilter) Conn {
	return &loggedConn{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		filter: filter,
	}
}

// LoggedDialer wraps every Conn opened by dial with NewLoggedConn.
func LoggedDialer(dial Dialer, logger zerolog.Logger, level zerolog.Level, opts LogOption, filter FrameFilter) Dialer {
	return func(device string) (Conn, error) {
		c, err := dial(device)
		if err != nil {
			return nil, err
		}
		return NewLoggedConn(c, logger.With().Str("device", device).Logger(), level, opts, filter), nil
	}
}

type loggedConn struct {
	inner  Conn
	logger zerolog.Logger
	level  zerolog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedConn) Write(p []byte) (int, error) {
	n, err := l.inner.Write(p)
	if l.opts&LogWrite == 0 {
		return n, err
	}
	if err != nil {
		l.logger.Error().Err(err).Msg("canbus write error")
		return n, err
	}
	l.logFrame("canbus write", p)
	return n, err
}

func (l *loggedConn) Read(p []byte) (int, error) {
	n, err := l.inner.Read(p)
	if l.opts&LogRead == 0 {
		return n, err
	}
	if err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			l.logger.Error().Err(err).Msg("canbus read error")
		}
		return n, err
	}
	l.logFrame("canbus read", p[:n])
	return n, err
}

func (l *loggedConn) logFrame(msg string, rec []byte) {
	var f Frame
	if f.UnmarshalBinary(rec) != nil {
		return
	}
	if l.filter != nil && !l.filter(f) {
		return
	}
	l.logger.WithLevel(l.level).
		Uint32("id", f.ID).
		Bool("extended", f.Extended).
		Bool("rtr", f.RTR).
		Int("len", int(f.Len)).
		Hex("data", f.Payload()).
		Str("frame", f.String()).
		Msg(msg)
}

// Close forwards to the inner Conn without logging.
func (l *loggedConn) Close() error {
	return l.inner.Close()
}
