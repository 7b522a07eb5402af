package report

import (
	"bytes"
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
)

// ErrNotFound is returned when no report was saved for a transport.
var ErrNotFound = errors.New("report not found")

// Sink publishes a finished report.
type Sink interface {
	Save(ctx context.Context, rep benchmark.BenchmarkReport) error
}

// FileSink writes the report to a file. An empty Path selects the transport's
// DefaultPath.
type FileSink struct {
	Path string
}

// Save implements Sink.
func (s FileSink) Save(ctx context.Context, rep benchmark.BenchmarkReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteFile(s.PathFor(rep.Type), rep)
}

// PathFor returns the path a report of transport is written to.
func (s FileSink) PathFor(transport benchmark.Transport) string {
	if s.Path != "" {
		return s.Path
	}
	return DefaultPath(transport)
}

// KeyPrefix prefixes the Redis keys of the saved reports.
const KeyPrefix = "mcpbench:last:"

// ConnPool hands out Redis connections. *redis.Pool satisfies it.
type ConnPool interface {
	Get() redis.Conn
}

// RedisSink keeps the last report of each transport in Redis, under KeyPrefix followed by
// the transport name.
type RedisSink struct {
	Pool ConnPool
	// TTL expires the saved report, zero keeps it forever.
	TTL time.Duration
}

// NewRedisPool returns a connection pool for the server at rawURL, e.g.
// redis://localhost:6379/0.
func NewRedisPool(rawURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     2,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(rawURL,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second))
		},
	}
}

// Key returns the key of the transport's report.
func Key(transport benchmark.Transport) string {
	return KeyPrefix + string(transport)
}

// Save implements Sink.
func (s RedisSink) Save(ctx context.Context, rep benchmark.BenchmarkReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := Key(rep.Type)
	var buf bytes.Buffer
	if err := Encode(&buf, rep); err != nil {
		return benchmark.NewSerializationError(key, err)
	}

	conn := s.Pool.Get()
	defer conn.Close()

	args := []any{key, buf.Bytes()}
	if s.TTL > 0 {
		args = append(args, "EX", int64(s.TTL/time.Second))
	}
	if _, err := conn.Do("SET", args...); err != nil {
		return errors.Wrapf(err, "failed to store report under %s", key)
	}
	return nil
}

// Load returns the last report saved for transport, or ErrNotFound.
func (s RedisSink) Load(ctx context.Context, transport benchmark.Transport) (benchmark.BenchmarkReport, error) {
	if err := ctx.Err(); err != nil {
		return benchmark.BenchmarkReport{}, err
	}

	key := Key(transport)
	conn := s.Pool.Get()
	defer conn.Close()

	bs, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return benchmark.BenchmarkReport{}, ErrNotFound
	}
	if err != nil {
		return benchmark.BenchmarkReport{}, errors.Wrapf(err, "failed to load report %s", key)
	}

	rep, err := Decode(bytes.NewReader(bs))
	if err != nil {
		return benchmark.BenchmarkReport{}, benchmark.NewSerializationError(key, err)
	}
	return rep, nil
}

// MultiSink saves to every sink in order and stops at the first failure.
type MultiSink []Sink

// Save implements Sink.
func (m MultiSink) Save(ctx context.Context, rep benchmark.BenchmarkReport) error {
	for _, s := range m {
		if err := s.Save(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}
