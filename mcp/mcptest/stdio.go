package mcptest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
)

// ServeStdIO serves newline-delimited JSON-RPC read from r, writing answers to w. Requests
// are handled concurrently. It returns nil once r reaches EOF, or ctx's error when ctx is
// canceled first.
func (s *Server) ServeStdIO(ctx context.Context, r io.Reader, w io.Writer) error {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	lines := make(chan []byte)
	readErrs := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
					readErrs <- err
				}
				return
			}
		}
	}()

	for {
		var line []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErrs:
					return err
				default:
					return nil
				}
			}
			line = l
		}

		var msg mcp.JSONRPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("failed to unmarshal message", "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			res, ok := s.handle(ctx, msg)
			if !ok {
				return
			}
			bs, err := json.Marshal(res)
			if err != nil {
				s.logger.Error("failed to marshal message", "err", err)
				return
			}
			bs = append(bs, '\n')

			writeMu.Lock()
			defer writeMu.Unlock()
			if _, err := w.Write(bs); err != nil {
				s.logger.Warn("failed to write message", "err", err)
			}
		}()
	}
}
