// Command tunnel-bench demonstrates the wire codec end to end: it opens a
// database/sql driver, prepares a statement, binds a parameter, and streams
// the result through the same Bind/Query message path a tunnel node would
// use, timing each round trip. It is a demo, not part of the codec's
// external interface.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nodeql/tunnel/chatter"
	"github.com/nodeql/tunnel/engine/sqldriver"
	"github.com/nodeql/tunnel/stmt"
	"github.com/nodeql/tunnel/stmtcache"
	"github.com/nodeql/tunnel/wire"
)

var version = "dev"

const (
	msgTypeBind  = 1
	msgTypeQuery = 2
)

func main() {
	fs := flag.NewFlagSet("tunnel-bench", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "tunnel-bench — demo round-tripper for the tunnel wire codec\n\nUsage:\n  tunnel-bench [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	driver := fs.String("driver", "mysql", "database/sql driver name (mysql, pgx)")
	dsnEnv := fs.String("dsn-env", "DATABASE_URL", "environment variable holding the DSN")
	query := fs.String("query", "SELECT ?", "query text, one '?' placeholder")
	param := fs.Int64("param", 1, "int64 value bound to the placeholder")
	iterations := fs.Int("iterations", 1, "number of bind/query round trips")
	nplus1Threshold := fs.Int("nplus1-threshold", 5, "repeated-statement detection threshold (0 to disable)")
	nplus1Window := fs.Duration("nplus1-window", time.Second, "repeated-statement detection window")
	nplus1Cooldown := fs.Duration("nplus1-cooldown", 10*time.Second, "repeated-statement alert cooldown")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("tunnel-bench %s\n", version)
		return
	}

	dsn := os.Getenv(*dsnEnv)
	if dsn == "" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*driver, dsn, *query, *param, *iterations, *nplus1Threshold, *nplus1Window, *nplus1Cooldown); err != nil {
		log.Fatal(err)
	}
}

func run(driverName, dsn, query string, param int64, iterations, nplus1Threshold int, nplus1Window, nplus1Cooldown time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer conn.Close()

	db := sqldriver.Open(conn)
	cache := stmtcache.New(db, 32)
	defer cache.Close()

	var monitor *chatter.Monitor
	if nplus1Threshold > 0 {
		monitor = chatter.New(nplus1Threshold, nplus1Window, nplus1Cooldown)
		log.Printf("repeated-statement detection enabled (threshold=%d, window=%s, cooldown=%s)",
			nplus1Threshold, nplus1Window, nplus1Cooldown)
	}

	const stmtID = uint32(1)
	engineStmt, err := cache.Prepare(ctx, stmtID, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	log.Printf("prepared %q as statement %d", query, stmtID)

	adapter := stmt.New(engineStmt)

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		runID := uuid.New()
		start := time.Now()

		bindMsg, err := decodedBindInt64(param)
		if err != nil {
			return fmt.Errorf("frame bind message: %w", err)
		}
		if gerr := adapter.Bind(bindMsg); gerr != nil {
			return fmt.Errorf("bind: %s", gerr.Message())
		}

		queryMsg := wire.NewMessage(msgTypeQuery, 0)
		result, gerr := adapter.Query(ctx, queryMsg)
		if gerr != nil {
			return fmt.Errorf("query: %s", gerr.Message())
		}

		elapsed := time.Since(start)
		log.Printf("round trip %s (%d/%d): %s (words=%d) in %s", runID, i+1, iterations, result, queryMsg.Words(), elapsed)

		if monitor != nil {
			// This demo's "SELECT ?" always yields exactly one row per
			// round trip, the single-row pattern RecordQuery watches for.
			r := monitor.RecordQuery(stmtID, start, 1)
			if r.Alert != nil {
				log.Printf("repeated statement detected: id=%d (%d times in %s)",
					r.Alert.StmtID, r.Alert.Count, nplus1Window)
			}
		}
	}

	return nil
}

// decodedBindInt64 builds a minimal one-parameter bind message: header word
// with count=1 and tag INTEGER in the first tag slot, followed by the value
// word. Bind reads from a decoded buffer, so the built message is
// framed to bytes and read back exactly as it would arrive over a
// connection, rather than handed to Bind still in encoding mode.
func decodedBindInt64(v int64) (*wire.Buffer, error) {
	msg := wire.NewMessage(msgTypeBind, 0)
	header := uint64(1)<<56 | uint64(wire.TagInteger)<<48
	msg.PutUint64(header)
	msg.PutInt64(v)

	var framed bytes.Buffer
	if err := msg.Encode(&framed); err != nil {
		return nil, err
	}
	return wire.ReadMessage(&framed)
}
