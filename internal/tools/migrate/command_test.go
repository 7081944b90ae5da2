package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sandeepkv93/reading-diary/internal/tools/common"
)

type fakeRunner struct {
	pending []string
	ran     bool
	runErr  error
}

func (f *fakeRunner) Pending(context.Context) ([]string, error) {
	if f.ran {
		return nil, nil
	}
	return f.pending, nil
}

func (f *fakeRunner) Run(context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	f.ran = true
	return nil
}

func execute(t *testing.T, r *fakeRunner, args ...string) (common.CIResult, error) {
	t.Helper()
	released := false
	cmd := newRootCommand(func() (Runner, func(), error) {
		return r, func() { released = true }, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--ci", "--env-file", ""))
	err := cmd.Execute()
	if !released {
		t.Fatal("expected runner connection to be released")
	}
	var res common.CIResult
	if decodeErr := json.Unmarshal(out.Bytes(), &res); decodeErr != nil {
		t.Fatalf("decode ci output %q: %v", out.String(), decodeErr)
	}
	return res, err
}

func TestUpAppliesPendingTables(t *testing.T) {
	r := &fakeRunner{pending: []string{"users", "sessions"}}
	res, err := execute(t, r, "up")
	if err != nil || !res.OK {
		t.Fatalf("expected success, got %v %+v", err, res)
	}
	if !r.ran || len(res.Details) != 1 || res.Details[0] != "created tables: users, sessions" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUpReportsFailure(t *testing.T) {
	res, err := execute(t, &fakeRunner{runErr: errors.New("disk full")}, "up")
	if err == nil || res.OK || res.Error != "disk full" {
		t.Fatalf("expected failure result, got %v %+v", err, res)
	}
}

func TestStatusAndPlanDoNotMutate(t *testing.T) {
	r := &fakeRunner{pending: []string{"stories"}}
	res, err := execute(t, r, "status")
	if err != nil || res.Details[1] != "migrations: 1 table(s) pending" {
		t.Fatalf("unexpected status %v %+v", err, res)
	}
	res, err = execute(t, r, "plan")
	if err != nil || res.Details[0] != "would create table stories" {
		t.Fatalf("unexpected plan %v %+v", err, res)
	}
	if r.ran {
		t.Fatal("status and plan must not migrate")
	}
}
