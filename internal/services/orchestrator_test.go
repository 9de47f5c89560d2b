package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/leasenet/internal/logging"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	running  bool
	log      *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.log = append(*f.log, "start "+f.name)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	*f.log = append(*f.log, "stop "+f.name)
	f.running = false
	return f.stopErr
}

func (f *fakeService) Status() ServiceStatus {
	return ServiceStatus{Name: f.name, Running: f.running}
}

func TestOrchestrator_Order(t *testing.T) {
	var log []string
	o := NewOrchestrator(logging.Discard())
	for _, name := range []string{"server", "laptop", "phone"} {
		require.NoError(t, o.Register(&fakeService{name: name, log: &log}))
	}
	assert.Error(t, o.Register(&fakeService{name: "phone", log: &log}))

	require.NoError(t, o.StartAll(context.Background()))
	require.NoError(t, o.StopAll(context.Background()))

	assert.Equal(t, []string{
		"start server", "start laptop", "start phone",
		"stop phone", "stop laptop", "stop server",
	}, log)

	svc, ok := o.Get("laptop")
	require.True(t, ok)
	assert.Equal(t, "laptop", svc.Name())
	_, ok = o.Get("tablet")
	assert.False(t, ok)
}

func TestOrchestrator_Errors(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	o := NewOrchestrator(logging.Discard())
	require.NoError(t, o.Register(&fakeService{name: "a", log: &log}))
	require.NoError(t, o.Register(&fakeService{name: "b", startErr: boom, stopErr: boom, log: &log}))
	require.NoError(t, o.Register(&fakeService{name: "c", log: &log}))

	err := o.StartAll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "start b"}, log)

	statuses := o.Statuses()
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Running)
	assert.False(t, statuses[1].Running)

	assert.ErrorIs(t, o.StopAll(context.Background()), boom)
}
