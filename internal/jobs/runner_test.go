package jobs

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/harun/seqqueue/pkg/seqqueue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

type results struct {
	mu  sync.Mutex
	all []Result
}

func (r *results) add(res Result) {
	r.mu.Lock()
	r.all = append(r.all, res)
	r.mu.Unlock()
}

func (r *results) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.all...)
}

func TestRunner_RunsJobsInOrder(t *testing.T) {
	requireShell(t)

	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))
	defer q.Close(true)

	var res results
	runner := NewRunner(q, zerolog.Nop(), res.add)
	defer runner.Stop()

	err := runner.Start([]Job{
		{Name: "first", Command: []string{"sh", "-c", "sleep 0.05"}},
		{Name: "second", Command: []string{"sh", "-c", "exit 3"}},
		{Name: "third", Command: []string{"true"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(res.snapshot()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	runner.Wait()

	all := res.snapshot()
	assert.Equal(t, "first", all[0].Job)
	assert.Equal(t, "second", all[1].Job)
	assert.Equal(t, "third", all[2].Job)
	assert.Equal(t, 0, all[0].ExitCode)
	assert.Equal(t, 3, all[1].ExitCode)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].ItemID, all[1].ItemID, all[2].ItemID})
	assert.NotEmpty(t, all[0].RunID)
	assert.NotEqual(t, all[0].RunID, all[1].RunID)
}

func TestRunner_TimeoutKillsProcess(t *testing.T) {
	requireShell(t)

	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))
	defer q.Close(true)

	timeouts := make(chan seqqueue.Event, 1)
	q.On(seqqueue.EventTimeout, func(ev seqqueue.Event) { timeouts <- ev })

	var res results
	runner := NewRunner(q, zerolog.Nop(), res.add)

	ok, err := runner.Push(Job{Name: "slow", Command: []string{"sleep", "5"}, TimeoutMs: 50})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case ev := <-timeouts:
		assert.Equal(t, "slow", ev.Item.Name())
	case <-time.After(2 * time.Second):
		t.Fatal("job did not time out")
	}

	require.Eventually(t, func() bool {
		return len(res.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	runner.Wait()

	got := res.snapshot()[0]
	assert.True(t, got.TimedOut)
	assert.Error(t, got.Err)
	assert.Less(t, got.Duration, 2*time.Second)
}

func TestRunner_DrainKillsRunningJob(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))

	var res results
	runner := NewRunner(q, zerolog.Nop(), res.add)

	for _, name := range []string{"running", "queued"} {
		ok, err := runner.Push(Job{Name: name, Command: []string{"sleep", "5"}, TimeoutMs: 60000})
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.Eventually(t, func() bool {
		return runner.Running() == 1
	}, 2*time.Second, 5*time.Millisecond)

	q.Close(true)
	require.True(t, runner.WaitTimeout(2*time.Second))

	all := res.snapshot()
	require.Len(t, all, 1)
	assert.Equal(t, "running", all[0].Job)
	assert.Error(t, all[0].Err)
	assert.False(t, all[0].TimedOut)
	assert.Less(t, all[0].Duration, 2*time.Second)
	assert.Zero(t, runner.Running())
}

func TestRunner_KillStopsLaterStarts(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))
	defer q.Close(true)

	var res results
	runner := NewRunner(q, zerolog.Nop(), res.add)
	assert.Zero(t, runner.Kill())

	ok, err := runner.Push(Job{Name: "late", Command: []string{"sleep", "5"}, TimeoutMs: 60000})
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return len(res.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, runner.WaitTimeout(2*time.Second))
	assert.Error(t, res.snapshot()[0].Err)
}

func TestRunner_StartFailureIsReported(t *testing.T) {
	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))
	defer q.Close(true)

	errs := make(chan seqqueue.Event, 1)
	q.On(seqqueue.EventError, func(ev seqqueue.Event) { errs <- ev })

	runner := NewRunner(q, zerolog.Nop(), nil)
	_, err := runner.Push(Job{Name: "missing", Command: []string{"/definitely/not/a/binary"}})
	require.NoError(t, err)

	select {
	case ev := <-errs:
		assert.Contains(t, ev.Err.Error(), "failed to start missing")
	case <-time.After(2 * time.Second):
		t.Fatal("start failure was not reported")
	}
}

func TestRunner_PushAfterClose(t *testing.T) {
	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))
	q.Close(false)

	runner := NewRunner(q, zerolog.Nop(), nil)
	ok, err := runner.Push(Job{Name: "late", Command: []string{"true"}})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRunner_InvalidSchedule(t *testing.T) {
	q := seqqueue.New(seqqueue.WithLogger(zerolog.Nop()), seqqueue.WithQueueName(t.Name()))
	defer q.Close(true)

	runner := NewRunner(q, zerolog.Nop(), nil)
	err := runner.Start([]Job{{Name: "bad", Command: []string{"true"}, Schedule: "not a schedule"}})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, -1, exitCode(assert.AnError))
}
