package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync"
)

// StdIO implements a standard input/output transport layer for MCP communication using
// newline-delimited JSON-RPC messages over an io.Reader/io.Writer pair, typically the pipes
// of a server child process. It provides a single session per instance.
//
// Proper initialization requires using the NewStdIO constructor function to create new
// instances.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	started sync.Once
}

type stdIOSession struct {
	writer io.Writer
	logger *slog.Logger

	writeMessages chan stdIOMessage
	lines         chan []byte
	done          chan struct{}
	writeClosed   chan struct{}
	stopOnce      sync.Once
	onStop        func()
}

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger for the StdIO transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader: reader,
		writer: writer,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// StartSession implements the ClientTransport interface. The session is usable right away,
// so ctx is only checked for cancellation. A StdIO instance supports a single session.
func (s *StdIO) StartSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sess *stdIOSession
	s.started.Do(func() {
		sess = newStdIOSession(s.reader, s.writer, s.logger, nil)
	})
	if sess == nil {
		return nil, errors.New("stdio session already started")
	}
	return sess, nil
}

func newStdIOSession(reader io.Reader, writer io.Writer, logger *slog.Logger, onStop func()) *stdIOSession {
	sess := &stdIOSession{
		writer:        writer,
		logger:        logger,
		writeMessages: make(chan stdIOMessage),
		lines:         make(chan []byte),
		done:          make(chan struct{}),
		writeClosed:   make(chan struct{}),
		onStop:        onStop,
	}
	go sess.processWriteMessages()
	go sess.readLines(reader)
	return sess
}

func (s *stdIOSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	ioMsg := stdIOMessage{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	// Queue the message so concurrent senders never interleave their writes.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	case s.writeMessages <- ioMsg:
	}

	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.Error("failed to write message", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *stdIOSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			var line []byte
			select {
			case <-s.done:
				return
			case l, ok := <-s.lines:
				if !ok {
					return
				}
				line = l
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				// Servers sometimes print diagnostics to stdout, skip anything that isn't JSON-RPC.
				s.logger.Warn("failed to unmarshal message", "err", err, "line", string(line))
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}

func (s *stdIOSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.writeClosed
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// readLines reads newline-framed messages until the reader fails. The goroutine may stay
// blocked in Read after Stop until the underlying reader is closed.
func (s *stdIOSession) readLines(r io.Reader) {
	defer close(s.lines)

	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := trimNewline(line)
			if len(trimmed) > 0 {
				select {
				case s.lines <- trimmed:
				case <-s.done:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				s.logger.Error("failed to read message", "err", err)
			}
			return
		}
	}
}

func (s *stdIOSession) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
