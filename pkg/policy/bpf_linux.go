package policy

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/types"
	"golang.org/x/sys/unix"
)

const (
	fsMapName  = "chef_fs_policy"
	netMapName = "chef_net_policy"

	// maxPolicyEntries bounds each pinned map; populates beyond it fail
	// with resource-exhausted while existing containers keep working.
	maxPolicyEntries = 65536
)

// bpfBackend writes policy entries into the pinned maps the chef LSM
// program looks up on file-open and socket hooks. The maps are shared by
// every container on the host; all mutations are atomic per key.
type bpfBackend struct {
	fsMap  *ebpf.Map
	netMap *ebpf.Map
}

func newBpfBackend(pinDir string) (*bpfBackend, error) {
	if err := os.MkdirAll(pinDir, 0o700); err != nil {
		return nil, err
	}

	fsMap, err := openPinnedMap(pinDir, fsMapName, uint32(24))
	if err != nil {
		return nil, err
	}
	netMap, err := openPinnedMap(pinDir, netMapName, uint32(24))
	if err != nil {
		fsMap.Close()
		return nil, err
	}

	return &bpfBackend{fsMap: fsMap, netMap: netMap}, nil
}

// openPinnedMap loads the pinned map left by a previous run, or creates
// and pins a fresh one.
func openPinnedMap(pinDir, name string, keySize uint32) (*ebpf.Map, error) {
	pinPath := filepath.Join(pinDir, name)
	if m, err := ebpf.LoadPinnedMap(pinPath, nil); err == nil {
		return m, nil
	}

	return ebpf.NewMapWithOptions(&ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Hash,
		KeySize:    keySize,
		ValueSize:  4,
		MaxEntries: maxPolicyEntries,
		Pinning:    ebpf.PinByName,
	}, ebpf.MapOptions{PinPath: pinDir})
}

func (b *bpfBackend) mode() Mode {
	return ModeBPF
}

func (b *bpfBackend) populate(cgroupId uint64, rootfs string, pol types.Policy) (written, dropped int, err error) {
	for _, rule := range pol.Fs {
		keys, ruleErr := resolveFsRule(rootfs, rule)
		if ruleErr != nil {
			logger.Warnf("policy rule %s dropped: %v", rule.Path, ruleErr)
			dropped++
			continue
		}
		if len(keys) == 0 {
			logger.Warnf("policy rule %s matches no path, skipped", rule.Path)
			dropped++
			continue
		}

		for _, key := range keys {
			key.CgroupId = cgroupId
			if putErr := b.fsMap.Put(&key, uint32(rule.Access)); putErr != nil {
				if isMapFull(putErr) {
					return written, dropped, types.WrapError(types.ErrResourceExhausted,
						putErr, "filesystem policy map full")
				}
				logger.Warnf("policy entry for %s dropped: %v", rule.Path, putErr)
				dropped++
				continue
			}
			written++
		}
	}

	for _, rule := range pol.Net {
		key := netKeyFor(cgroupId, rule)
		if putErr := b.netMap.Put(&key, uint32(rule.Allow)); putErr != nil {
			if isMapFull(putErr) {
				return written, dropped, types.WrapError(types.ErrResourceExhausted,
					putErr, "network policy map full")
			}
			logger.Warnf("network policy entry dropped: %v", putErr)
			dropped++
			continue
		}
		written++
	}

	return written, dropped, nil
}

func (b *bpfBackend) cleanup(cgroupId uint64) (removed int, err error) {
	n, err := deleteByCgroup(b.fsMap, cgroupId, func() interface{} { return &fsKey{} },
		func(k interface{}) uint64 { return k.(*fsKey).CgroupId })
	removed += n
	if err != nil {
		return removed, err
	}

	n, err = deleteByCgroup(b.netMap, cgroupId, func() interface{} { return &netKey{} },
		func(k interface{}) uint64 { return k.(*netKey).CgroupId })
	removed += n
	return removed, err
}

// deleteByCgroup collects every key whose cgroup field matches, then
// deletes them. Collect-then-delete keeps the iterator valid.
func deleteByCgroup(m *ebpf.Map, cgroupId uint64, newKey func() interface{},
	cgroupOf func(interface{}) uint64) (removed int, err error) {

	var doomed []interface{}
	key := newKey()
	var value uint32

	iter := m.Iterate()
	for iter.Next(key, &value) {
		if cgroupOf(key) == cgroupId {
			doomed = append(doomed, key)
			key = newKey()
		}
	}
	if err = iter.Err(); err != nil {
		return 0, err
	}

	for _, k := range doomed {
		if delErr := m.Delete(k); delErr != nil && !errors.Is(delErr, ebpf.ErrKeyNotExist) {
			err = delErr
			continue
		}
		removed++
	}
	return removed, err
}

func isMapFull(err error) bool {
	return errors.Is(err, unix.E2BIG) || errors.Is(err, unix.ENOSPC)
}

func (b *bpfBackend) close() error {
	err := b.fsMap.Close()
	if netErr := b.netMap.Close(); err == nil {
		err = netErr
	}
	return err
}
