package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/tools/common"
)

type prunerFunc func(context.Context) (int64, error)

func (f prunerFunc) Prune(ctx context.Context) (int64, error) { return f(ctx) }

func runPrune(t *testing.T, p Pruner, store string) (common.CIResult, error) {
	t.Helper()
	cmd := newRootCommand(func() (Pruner, string, func(), error) {
		return p, store, func() {}, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"prune", "--ci", "--env-file", ""})
	err := cmd.Execute()
	var res common.CIResult
	if decodeErr := json.Unmarshal(out.Bytes(), &res); decodeErr != nil {
		t.Fatalf("decode ci output %q: %v", out.String(), decodeErr)
	}
	return res, err
}

func TestPruneReportsCount(t *testing.T) {
	res, err := runPrune(t, prunerFunc(func(context.Context) (int64, error) { return 4, nil }), config.SessionStoreDB)
	if err != nil || !res.OK || res.Details[0] != "removed 4 expired session(s)" || len(res.Details) != 1 {
		t.Fatalf("unexpected result %v %+v", err, res)
	}
}

func TestPruneNotesRedisStore(t *testing.T) {
	res, err := runPrune(t, prunerFunc(func(context.Context) (int64, error) { return 0, nil }), config.SessionStoreRedis)
	if err != nil || len(res.Details) != 2 || !strings.Contains(res.Details[1], "SESSION_STORE=redis") {
		t.Fatalf("unexpected result %v %+v", err, res)
	}
}

func TestPruneFailure(t *testing.T) {
	res, err := runPrune(t, prunerFunc(func(context.Context) (int64, error) { return 0, errors.New("locked") }), config.SessionStoreDB)
	if err == nil || res.OK || !strings.Contains(res.Error, "locked") {
		t.Fatalf("expected failure, got %v %+v", err, res)
	}
}
