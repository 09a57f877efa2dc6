package worker

import "github.com/crate-audio/crate/pkg/logger"

var workerLogger = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int

	// A WorkerTask is executed repeatedly by a worker until it
	// reports that no work was available (false), at which point the
	// worker sleeps until woken by it's pool. A non-nil error stops
	// the worker permanently.
	WorkerTask func(w Worker) (bool, error)

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WorkerWakeupChan
		Label() string
		Close()
	}

	taskWorker struct {
		label         string
		task          WorkerTask
		wakeupChan    WorkerWakeupChan
		currentStatus WorkerStatus
	}
)

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{
		label:         label,
		task:          task,
		// A one-slot buffer lets a wakeup land while the worker is
		// still transitioning in to its sleep, rather than being
		// dropped by the pool's non-blocking send.
		wakeupChan:    make(WorkerWakeupChan, 1),
		currentStatus: SLEEPING,
	}
}

// Start runs the workers task in a loop until the task reports
// an error, or the wakeup channel for this worker is closed. When the
// task reports that no work was available, the worker sleeps until
// the pool signals the wakeup channel.
func (worker *taskWorker) Start() {
	worker.currentStatus = WORKING
	for {
		didWork, err := worker.task(worker)
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker %s task reported error (%T): %v\n", worker.label, err, err)
			worker.currentStatus = FINISHED
			return
		}

		if didWork {
			continue
		}

		if alive := worker.sleep(); !alive {
			return
		}
	}
}

func (worker *taskWorker) Status() WorkerStatus {
	return worker.currentStatus
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

func (worker *taskWorker) Label() string {
	return worker.label
}

// Close closes the worker by closing it's wakeup channel. Note that
// this does not interrupt an in-flight task.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// sleep blocks until the wakeup channel is signalled from another
// goroutine. Returns false if the wakeup channel was closed,
// indicating the worker should quit.
func (worker *taskWorker) sleep() (isAlive bool) {
	worker.currentStatus = SLEEPING

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus = WORKING
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
		worker.currentStatus = FINISHED
	}

	return isAlive
}
