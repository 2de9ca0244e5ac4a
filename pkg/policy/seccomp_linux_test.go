package policy

import (
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func TestAllowedSyscallsBase(t *testing.T) {
	got := AllowedSyscalls(types.SecurityStrict, nil)

	for _, required := range []string{"read", "write", "execve", "exit_group", "futex"} {
		if !contains(got, required) {
			t.Errorf("strict list misses %s", required)
		}
	}
	// no network rules, no socket syscalls
	for _, denied := range []string{"socket", "bind", "connect", "listen", "accept"} {
		if contains(got, denied) {
			t.Errorf("strict list without net rules allows %s", denied)
		}
	}
	// strict drops process introspection
	if contains(got, "ptrace") {
		t.Errorf("strict list allows ptrace")
	}
}

func TestAllowedSyscallsDefaultLevel(t *testing.T) {
	got := AllowedSyscalls(types.SecurityDefault, nil)
	if !contains(got, "ptrace") || !contains(got, "capget") {
		t.Fatalf("default level misses introspection syscalls")
	}
}

func TestAllowedSyscallsNetRules(t *testing.T) {
	rules := []types.NetRule{
		{Allow: types.NetCreate | types.NetConnect},
	}
	got := AllowedSyscalls(types.SecurityStrict, rules)

	for _, want := range []string{"socket", "connect"} {
		if !contains(got, want) {
			t.Errorf("net rules miss %s", want)
		}
	}
	// the mask is precise: no bind/listen unless asked for
	for _, denied := range []string{"bind", "listen", "accept"} {
		if contains(got, denied) {
			t.Errorf("net mask leaked %s", denied)
		}
	}
}

func TestAllowedSyscallsNoDuplicates(t *testing.T) {
	rules := []types.NetRule{
		{Allow: types.NetCreate},
		{Allow: types.NetCreate | types.NetSend},
	}
	got := AllowedSyscalls(types.SecurityDefault, rules)

	seen := make(map[string]bool, len(got))
	for _, n := range got {
		if seen[n] {
			t.Fatalf("syscall %s listed twice", n)
		}
		seen[n] = true
	}
}

func TestNetKeyFor(t *testing.T) {
	rule := types.NetRule{Family: 2, SockType: 1, Protocol: 6, Port: 8080, Allow: types.NetConnect}
	key := netKeyFor(77, rule)
	if key.CgroupId != 77 || key.Family != 2 || key.SockType != 1 ||
		key.Protocol != 6 || key.Port != 8080 {
		t.Fatalf("key = %+v", key)
	}
}
