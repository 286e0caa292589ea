package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	names     []string
	positions []float64
}

func (f *fakeSource) JointNames() []string  { return f.names }
func (f *fakeSource) Positions() []float64  { return f.positions }
func (f *fakeSource) Velocities() []float64 { return make([]float64, len(f.names)) }
func (f *fakeSource) Efforts() []float64    { return make([]float64, len(f.names)) }
func (f *fakeSource) Setpoints() []float64  { return make([]float64, len(f.names)) }
func (f *fakeSource) ActiveVector() []bool {
	active := make([]bool, len(f.names))
	for i := range active {
		active[i] = true
	}
	return active
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "record.db")
}

func TestOpen_MigratesAndCreatesSession(t *testing.T) {
	r, err := Open(tempDB(t), []string{"roll", "pitch"})
	require.NoError(t, err)
	defer r.Close()

	assert.NotEmpty(t, r.SessionID())

	var joints string
	err = r.db.QueryRow(
		`SELECT joint_names FROM sessions WHERE session_id = ?`, r.SessionID()).Scan(&joints)
	require.NoError(t, err)
	assert.Equal(t, "roll,pitch", joints)
}

func TestOpen_NoJoints(t *testing.T) {
	_, err := Open(tempDB(t), nil)
	assert.Error(t, err)
}

func TestOpen_ExistingDatabase(t *testing.T) {
	path := tempDB(t)

	r1, err := Open(path, []string{"roll"})
	require.NoError(t, err)
	require.NoError(t, r1.Sample(&fakeSource{names: []string{"roll"}, positions: []float64{1}}))
	require.NoError(t, r1.Close())

	// Reopening runs migrations again as a no-op and starts a fresh session.
	r2, err := Open(path, []string{"roll"})
	require.NoError(t, err)
	defer r2.Close()
	assert.NotEqual(t, r1.SessionID(), r2.SessionID())

	n, err := r2.SampleCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "new session must start empty")
}

func TestSample_OneRowPerJoint(t *testing.T) {
	r, err := Open(tempDB(t), []string{"roll", "pitch", "jaw"})
	require.NoError(t, err)
	defer r.Close()

	src := &fakeSource{
		names:     []string{"roll", "pitch", "jaw"},
		positions: []float64{0.1, 0.2, 0.3},
	}
	require.NoError(t, r.Sample(src))
	require.NoError(t, r.Sample(src))

	n, err := r.SampleCount()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	var position float64
	err = r.db.QueryRow(
		`SELECT position FROM samples WHERE session_id = ? AND joint = ? LIMIT 1`,
		r.SessionID(), "jaw").Scan(&position)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, position, 1e-9)
}

func TestRun_SamplesUntilCancelled(t *testing.T) {
	r, err := Open(tempDB(t), []string{"roll"})
	require.NoError(t, err)
	defer r.Close()

	src := &fakeSource{names: []string{"roll"}, positions: []float64{0.5}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, src, time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := r.SampleCount()
		require.NoError(t, err)
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	n, err := r.SampleCount()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)
}
