package metrics_test

import (
	"testing"

	"github.com/odsyjr2/detection-supervisor/internal/telemetry/metrics"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/queue"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_AdaptersSatisfyConsumerInterfaces(t *testing.T) {
	reg := metrics.New()

	reg.SetQueueDepth("high", 3)
	reg.SetStreamFrameRate("cam-1", 14.5)
	reg.SetSpoolDepth(2)
	reg.StreamRestarted("cam-1")
	reg.QueueDropped(model.AnalysisTask{TaskID: "t1"}, "dropped_low")

	var _ queue.DroppedFunc = reg.QueueDropped

	pm := reg.Pipeline()
	pm.Rejected("legal_or_low_conf")
	pm.Retried("t1", 1)
	pm.PermanentFailure("t1")
	pm.Accepted()
	pm.TaskProcessed(0)
	pm.WorkerRestarted(0, "panic")

	rm := reg.Reporter()
	rm.Delivered()
	rm.Rejected()
	rm.DeadLettered()

	assert.NotNil(t, reg.Handler())
}
