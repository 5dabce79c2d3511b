package registry

import (
	"errors"
	"testing"

	"github.com/justapithecus/oneshot/executor"
)

func TestRegistry_GetConstructsAndCaches(t *testing.T) {
	calls := 0
	reg := New(map[string]Constructor{
		"claude_code": func() (executor.Executor, error) {
			calls++
			return executor.NewSubprocessExecutor(executor.SubprocessConfig{Name: "claude_code", BinaryPath: "/bin/true"}), nil
		},
	})

	first, err := reg.Get("claude_code")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := reg.Get("claude_code")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if first != second {
		t.Error("expected cached instance on second Get")
	}
	if calls != 1 {
		t.Errorf("expected constructor called once, got %d", calls)
	}
}

func TestRegistry_Get_UnknownNameFails(t *testing.T) {
	reg := New(map[string]Constructor{})
	_, err := reg.Get("nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown executor name")
	}
}

func TestRegistry_Describe(t *testing.T) {
	reg := New(map[string]Constructor{
		"claude_code": func() (executor.Executor, error) {
			return executor.NewSubprocessExecutor(executor.SubprocessConfig{
				Name:        "claude_code",
				BinaryPath:  "/bin/true",
				CapturesGit: true,
			}), nil
		},
	})

	meta, err := reg.Describe("claude_code")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if meta.Name != "claude_code" || !meta.CapturesGit {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestRegistry_DescribeAll_SkipsFailingConstructors(t *testing.T) {
	reg := New(map[string]Constructor{
		"good": func() (executor.Executor, error) {
			return executor.NewSubprocessExecutor(executor.SubprocessConfig{Name: "good", BinaryPath: "/bin/true"}), nil
		},
		"bad": func() (executor.Executor, error) {
			return nil, errors.New("cannot construct")
		},
	})

	all := reg.DescribeAll()
	if _, ok := all["good"]; !ok {
		t.Error("expected good executor in DescribeAll results")
	}
	if _, ok := all["bad"]; ok {
		t.Error("expected bad executor to be skipped")
	}
}
