package toolexec

import (
	"context"
	"slices"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRunner is a testify mock of interfaces.ToolRunner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, cmd interfaces.Command) (*interfaces.Result, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*interfaces.Result)
	return res, args.Error(1)
}

func (m *MockRunner) Available(tool string) bool {
	return m.Called(tool).Bool(0)
}

// Call matches a Command for tool whose arguments contain args as a contiguous run.
func Call(tool string, args ...string) interface{} {
	return mock.MatchedBy(func(cmd interfaces.Command) bool {
		return Matches(cmd, tool, args...)
	})
}

// Matches reports whether cmd targets tool and contains args in order.
func Matches(cmd interfaces.Command, tool string, args ...string) bool {
	if cmd.Tool != tool {
		return false
	}
	if len(args) == 0 {
		return true
	}
	for i := 0; i+len(args) <= len(cmd.Args); i++ {
		if slices.Equal(cmd.Args[i:i+len(args)], args) {
			return true
		}
	}
	return false
}

// Output is a shorthand for a successful Result carrying stdout.
func Output(stdout string) *interfaces.Result {
	return &interfaces.Result{Stdout: stdout}
}
