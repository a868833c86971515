package sandboxworker

import (
	"testing"

	seccomp "github.com/seccomp/libseccomp-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTaskDenyRules(t *testing.T) {
	rules, err := taskDenyRules()
	require.NoError(t, err)

	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name)
	}
	assert.ElementsMatch(t, []string{"fork", "vfork", "execve", "execveat", "clone3", "clone"}, names)

	for _, rule := range rules {
		if rule.Name == "clone" {
			continue
		}
		assert.Empty(t, rule.Conditions, "%s must be denied unconditionally", rule.Name)
	}
}

func TestCloneRuleSparesThreads(t *testing.T) {
	rules, err := taskDenyRules()
	require.NoError(t, err)

	var clone *syscallRule
	for i := range rules {
		if rules[i].Name == "clone" {
			clone = &rules[i]
			break
		}
	}
	require.NotNil(t, clone)
	require.Len(t, clone.Conditions, 1)

	cond := clone.Conditions[0]
	assert.Equal(t, uint(0), cond.Argument, "clone flags are the first argument")
	assert.Equal(t, seccomp.CompareMaskedEqual, cond.Op)
	assert.Equal(t, uint64(unix.CLONE_THREAD), cond.Operand1)
	assert.Equal(t, uint64(0), cond.Operand2, "deny only when CLONE_THREAD is absent")
}
