package events

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSkipsNil(t *testing.T) {
	var a, b Recorder
	n := Multi(&a, nil, &b)

	n.Notify(Event{Kind: ReceiveStarted, FileName: "a.txt"})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestRecorderConcurrent(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify(Event{Kind: TransferCompleted})
		}()
	}
	wg.Wait()

	assert.Len(t, r.OfKind(TransferCompleted), 50)
	assert.Empty(t, r.OfKind(TransferFailed))
}

func TestStamp(t *testing.T) {
	e := Stamp(Event{Kind: TextReceived})
	assert.False(t, e.Time.IsZero())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	n := NewLogNotifier(log)
	n.Notify(Event{Kind: ReceiveFailed, FileName: "a.txt", Err: errors.New("disk full")})

	out := buf.String()
	require.Contains(t, out, "level=warning")
	assert.Contains(t, out, "file=a.txt")
	assert.Contains(t, out, "disk full")
}
