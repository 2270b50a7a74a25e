package netpoll

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sp1l/fdcore/fdtable"
)

type fakeBackend struct {
	name    string
	initErr error
	inited  bool
}

func (f *fakeBackend) Init() error       { f.inited = f.initErr == nil; return f.initErr }
func (f *fakeBackend) Term() error       { return nil }
func (f *fakeBackend) ForkRecover() error { return nil }
func (f *fakeBackend) Wait(int, int64, EventSink) error { return nil }
func (f *fakeBackend) Name() string      { return f.name }

// withRegistry saves and restores the package-level registry so tests
// don't interfere with real init()-registered platform backends.
func withRegistry(t *testing.T, fn func()) {
	t.Helper()
	saved := registry
	registry = nil
	defer func() { registry = saved }()
	fn()
}

func TestOpenTriesEachBackendInOrder(t *testing.T) {
	withRegistry(t, func() {
		var tried []string
		failing := &fakeBackend{name: "bad", initErr: errNoBackend}
		working := &fakeBackend{name: "good"}
		Register("bad", func(*fdtable.Table, int) Backend { tried = append(tried, "bad"); return failing })
		Register("good", func(*fdtable.Table, int) Backend { tried = append(tried, "good"); return working })

		b, err := Open(nil, 0)
		require.NoError(t, err)
		require.Equal(t, "good", b.Name())
		require.Equal(t, []string{"bad", "good"}, tried)
	})
}

func TestOpenReturnsErrorWhenNoneInit(t *testing.T) {
	withRegistry(t, func() {
		Register("bad", func(*fdtable.Table, int) Backend {
			return &fakeBackend{name: "bad", initErr: errNoBackend}
		})
		_, err := Open(nil, 0)
		require.Error(t, err)
	})
}

func TestOpenWithEmptyRegistryReturnsErrNoBackend(t *testing.T) {
	withRegistry(t, func() {
		_, err := Open(nil, 0)
		require.ErrorIs(t, err, errNoBackend)
	})
}
