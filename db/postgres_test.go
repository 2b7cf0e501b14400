package db

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgconn"

	"node.town/scribe/transcript"
)

type fakeExec struct {
	sql  []string
	args [][]any
	err  error
}

func (f *fakeExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestArchiveStoresFinals(t *testing.T) {
	exec := &fakeExec{}
	a := NewArchive(exec, log.New(io.Discard))
	at := time.UnixMilli(1_700_000_000_000)

	interim := transcript.NewEvent(transcript.Interim, "hel", "alice", "TR_1", at)
	final := transcript.NewEvent(transcript.Final, "hello", "alice", "TR_1", at.Add(time.Second))

	for _, ev := range []transcript.Event{interim, final} {
		if err := a.Mirror(context.Background(), "abc", ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(exec.sql) != 1 {
		t.Fatalf("expected one insert, got %d", len(exec.sql))
	}
	if !strings.Contains(exec.sql[0], "INSERT INTO transcripts") {
		t.Errorf("unexpected statement %q", exec.sql[0])
	}
	args := exec.args[0]
	if args[0] != "abc" || args[1] != final.SegmentID || args[4] != "hello" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestArchiveWrapsErrors(t *testing.T) {
	dbErr := errors.New("connection reset")
	a := NewArchive(&fakeExec{err: dbErr}, log.New(io.Discard))
	ev := transcript.NewEvent(transcript.Final, "hi", "bob", "TR_2", time.Now())

	err := a.Mirror(context.Background(), "abc", ev)
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if a.Name() != "postgres" {
		t.Errorf("name = %q", a.Name())
	}
}

func TestSchemaIsEmbedded(t *testing.T) {
	data, err := sqlFS.ReadFile("db_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS transcripts") {
		t.Error("schema does not create the transcripts table")
	}
}
