package sandboxworker

import (
	"fmt"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// syscallRule names a syscall to deny with EPERM. Conditional rules apply
// only when every condition matches.
type syscallRule struct {
	Name       string
	Conditions []seccomp.ScmpCondition
}

// taskDenyRules builds the filter rules: every task-creation syscall fails
// with EPERM while everything else stays allowed. clone is denied only when
// the flags (arg 0 on the supported architectures) do not carry
// CLONE_THREAD, so runtime threads keep working.
func taskDenyRules() ([]syscallRule, error) {
	notAThread, err := seccomp.MakeCondition(0, seccomp.CompareMaskedEqual, unix.CLONE_THREAD, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to build clone condition: %w", err)
	}
	return []syscallRule{
		{Name: "fork"},
		{Name: "vfork"},
		{Name: "execve"},
		{Name: "execveat"},
		{Name: "clone3"},
		{Name: "clone", Conditions: []seccomp.ScmpCondition{notAThread}},
	}, nil
}

// installTaskDenyFilter loads the seccomp filter into the calling process.
// Syscalls unknown to the running kernel are skipped.
func installTaskDenyFilter() error {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("failed to create seccomp filter: %w", err)
	}
	defer filter.Release()

	eperm := seccomp.ActErrno.SetReturnCode(int16(unix.EPERM))
	rules, err := taskDenyRules()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		sc, err := seccomp.GetSyscallFromName(rule.Name)
		if err != nil {
			continue
		}
		if len(rule.Conditions) == 0 {
			err = filter.AddRule(sc, eperm)
		} else {
			err = filter.AddRuleConditional(sc, eperm, rule.Conditions)
		}
		if err != nil {
			return fmt.Errorf("failed to add seccomp rule for %s: %w", rule.Name, err)
		}
	}

	if err := filter.Load(); err != nil {
		return fmt.Errorf("failed to load seccomp filter: %w", err)
	}
	return nil
}
